// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package logoutput

import (
	"context"
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileMaxSizeMB  = 20
	logFileMaxBackups = 3
)

// WithLogFile additionally writes JSON logs to a size-rotated file at path.
// The returned closer must be called once logging is done.
func WithLogFile(ctx context.Context, path string) (context.Context, io.Closer) {
	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
	}

	o := OutputFrom(ctx)
	o.JSONFile = f
	return WithOutput(ctx, o), f
}
