// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package try contains small helpers for keeping the telemetry side
// channel from ever disturbing the instrumented workload.
package try

import (
	"errors"
	"fmt"
	"io"
)

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value any
}

// Error implements the [builtin.error] interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("recovered from panic: %v", e.Value)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e PanicError) Unwrap() error {
	err, ok := e.Value.(error)
	if !ok {
		return nil
	}
	return err
}

// Recover captures an in-flight panic into *err. Telemetry delivery runs
// on detached goroutines where an unrecovered panic would take down the
// whole process.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}

	perr := PanicError{
		Value: r,
	}
	if *err == nil {
		*err = perr
		return
	}
	*err = errors.Join(*err, perr)
}

// Close closes v if it is an io.Closer and joins any close failure
// into *err.
func Close(err *error, v any) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}

	cerr := c.Close()
	if cerr == nil {
		return
	}

	if *err == nil {
		*err = cerr
		return
	}
	*err = errors.Join(*err, cerr)
}
