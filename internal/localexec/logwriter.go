// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the EARLY ACCESS SOFTWARE LICENSE AGREEMENT
// available at http://github.com/namespacelabs/foundation

package localexec

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// LogWriter forwards every complete line written to it to a logger.
type LogWriter struct {
	logger *zerolog.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

func NewLogWriter(logger *zerolog.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line, keep it for the next write.
			w.buf.Write(line)
			return len(p), nil
		}
		w.emit(line[:len(line)-1])
	}
}

func (w *LogWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *LogWriter) emit(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	w.logger.Debug().Msg(string(line))
}
