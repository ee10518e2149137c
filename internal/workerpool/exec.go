// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workerpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"namespacelabs.dev/backendkit/internal/localexec"
)

// envelope is what a command-backed worker writes to its standard output.
type envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Failure        `json:"error,omitempty"`
}

// ExecHandler returns a handler which runs command once per job. The
// request is written to the command's standard input as JSON; the command
// replies with `{"result": ...}` or `{"error": {"message": ..., "details": ...}}`
// on its standard output.
func ExecHandler[Req, Resp any](label, command string, args ...string) Handler[Req, Resp] {
	return func(ctx context.Context, req Req) (Resp, error) {
		var resp Resp

		input, err := json.Marshal(req)
		if err != nil {
			return resp, fmt.Errorf("failed to serialize request: %w", err)
		}

		var out bytes.Buffer
		if err := (localexec.Command{
			Label:   label,
			Command: command,
			Args:    args,
			Stdin:   bytes.NewReader(input),
			Stdout:  &out,
		}).Run(ctx); err != nil {
			return resp, err
		}

		return decodeEnvelope[Resp](out.Bytes())
	}
}

func decodeEnvelope[Resp any](data []byte) (Resp, error) {
	var resp Resp

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return resp, &Failure{Message: "worker replied with an invalid response", Details: err.Error(), cause: err}
	}

	if env.Error != nil {
		return resp, env.Error
	}

	if len(env.Result) == 0 {
		return resp, &Failure{Message: "worker replied without a result"}
	}

	if err := json.Unmarshal(env.Result, &resp); err != nil {
		return resp, &Failure{Message: "worker replied with an invalid result", Details: err.Error(), cause: err}
	}

	return resp, nil
}
