// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package schema

import "encoding/json"

// ScriptSchema holds the JSON schemas of a script's request and response
// types. Each is a JSON Schema document whose root type is declared under
// `definitions`, as Request and Response respectively.
type ScriptSchema struct {
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response"`
}

func (s ScriptSchema) IsSet() bool {
	return len(s.Request) > 0 && len(s.Response) > 0
}
