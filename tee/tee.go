// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package tee intercepts a process's combined output stream. Every line
// is persisted raw to a log file, forwarded as a log record correlated to
// the open step span, and echoed to the original console stream prefixed
// with its correlation ids. Only the console copy carries the prefix.
package tee

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/z5labs/steptrace/internal/try"
	"github.com/z5labs/steptrace/traceparent"
)

// Recorder is the slice of an open step the tee needs: a log record sink
// and the correlation ids to annotate console output with.
// steptrace.Step implements it.
type Recorder interface {
	Log(body string)
	Context() traceparent.Context
}

// Writer splits whatever is written to it into lines and fans each line
// out to the log file, the step's log records and the console. It is safe
// for concurrent use, so a command's stdout and stderr pipes can both
// point at the same Writer.
type Writer struct {
	rec     Recorder
	file    *os.File
	console io.Writer

	mu  sync.Mutex
	buf bytes.Buffer
}

// New returns a Writer persisting raw lines to the file at path. The tee
// must only be attached after a step span is open.
func New(rec Recorder, path string, console io.Writer) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{
		rec:     rec,
		file:    f,
		console: console,
	}, nil
}

// Write implements the io.Writer interface. Partial lines are buffered
// until their newline arrives.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// no newline yet, keep the partial line buffered
			w.buf.WriteString(line)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Close flushes a trailing partial line and closes the log file.
func (w *Writer) Close() (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer try.Close(&err, w.file)

	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

func (w *Writer) emit(line string) {
	// the persisted file and the exported record carry the raw line;
	// correlation ids are console-only
	fmt.Fprintln(w.file, line)
	w.rec.Log(line)

	tc := w.rec.Context()
	fmt.Fprintf(w.console, "traceId=%s parentId=%s spanId=%s %s\n",
		tc.TraceIDHex(), tc.ParentSpanIDHex(), tc.SpanIDHex(), line)
}
