// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the EARLY ACCESS SOFTWARE LICENSE AGREEMENT
// available at http://github.com/namespacelabs/foundation

package logoutput

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const StampMilliTZ = "Jan _2 15:04:05.000 MST"

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
}

type logoutputKey string

var _logoutputKey logoutputKey = "bkit.log.output"

type OutputTo struct {
	Writer     io.Writer
	WithColors bool
	OutputType OutputType
	// If set, also receives every log line as JSON.
	JSONFile io.Writer
}

type OutputType string

const OutputText OutputType = "bkit.log.output.text"
const OutputJSON OutputType = "bkit.log.output.json"

func (o OutputTo) MakeWriter() io.Writer {
	var w io.Writer = o.Writer
	if o.OutputType != OutputJSON {
		w = zerolog.ConsoleWriter{Out: o.Writer, TimeFormat: StampMilliTZ, NoColor: !o.WithColors}
	}

	if o.JSONFile != nil {
		return zerolog.MultiLevelWriter(w, o.JSONFile)
	}

	return w
}

func (o OutputTo) ZeroLogger() *zerolog.Logger {
	l := withZerologWriter(o.MakeWriter())
	return &l
}

func WithOutput(ctx context.Context, o OutputTo) context.Context {
	return withZerolog(context.WithValue(ctx, _logoutputKey, o))
}

func OutputFrom(ctx context.Context) OutputTo {
	if outputTo, ok := ctx.Value(_logoutputKey).(OutputTo); ok {
		return outputTo
	}

	return Default()
}

// Default writes text to stderr, with colors if stderr is a terminal. JSON is
// selected with the `log_json` setting.
func Default() OutputTo {
	outputType := OutputText
	if viper.GetBool("log_json") {
		outputType = OutputJSON
	}

	return OutputTo{Writer: os.Stderr, OutputType: outputType, WithColors: term.IsTerminal(int(os.Stderr.Fd()))}
}

func withZerolog(ctx context.Context) context.Context {
	return OutputFrom(ctx).ZeroLogger().WithContext(ctx)
}

func withZerologWriter(w io.Writer) zerolog.Logger {
	defLevel := zerolog.InfoLevel
	if lvl := viper.GetString("log_level"); lvl != "" {
		l, err := zerolog.ParseLevel(lvl)
		if err == nil {
			defLevel = l
		}
	}

	return zerolog.New(w).With().Timestamp().Logger().Level(defLevel)
}
