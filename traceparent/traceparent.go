// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package traceparent implements W3C trace context propagation for
// short-lived task steps. The propagated representation always reflects
// the innermost open span so anything reading it downstream, including
// subprocesses, inherits correct parentage.
package traceparent

import (
	"context"
	"crypto/rand"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const headerKey = "traceparent"

// Context is the (trace id, span id, parent span id, flags) tuple carried
// across nested operations and process boundaries.
type Context struct {
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID
	Flags        trace.TraceFlags
}

// Parse decodes a serialized context of the form
// "00-<32 hex>-<16 hex>-<2 hex>". Malformed input yields a zero Context
// rather than an error since telemetry must never fail the workload.
func Parse(s string) Context {
	if s == "" {
		return Context{}
	}

	carrier := propagation.MapCarrier{headerKey: s}
	ctx := propagation.TraceContext{}.Extract(context.Background(), carrier)

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return Context{}
	}
	return Context{
		TraceID: sc.TraceID(),
		SpanID:  sc.SpanID(),
		Flags:   sc.TraceFlags(),
	}
}

// Valid reports whether c carries usable trace and span ids.
func (c Context) Valid() bool {
	return c.TraceID.IsValid() && c.SpanID.IsValid()
}

// String serializes c into the propagated wire form. A Context without
// valid ids serializes to the empty string.
func (c Context) String() string {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    c.TraceID,
		SpanID:     c.SpanID,
		TraceFlags: c.Flags,
	})
	if !sc.IsValid() {
		return ""
	}

	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get(headerKey)
}

// Child derives the context for a nested span: same trace id and flags,
// a fresh random span id and the current span id as parent.
func (c Context) Child() Context {
	return Context{
		TraceID:      c.TraceID,
		SpanID:       NewSpanID(),
		ParentSpanID: c.SpanID,
		Flags:        c.Flags,
	}
}

// TraceIDHex returns the lowercase hex trace id or "" if unset.
func (c Context) TraceIDHex() string {
	if !c.TraceID.IsValid() {
		return ""
	}
	return c.TraceID.String()
}

// SpanIDHex returns the lowercase hex span id or "" if unset.
func (c Context) SpanIDHex() string {
	if !c.SpanID.IsValid() {
		return ""
	}
	return c.SpanID.String()
}

// ParentSpanIDHex returns the lowercase hex parent span id or "" if unset.
func (c Context) ParentSpanIDHex() string {
	if !c.ParentSpanID.IsValid() {
		return ""
	}
	return c.ParentSpanID.String()
}

// NewSpanID returns a cryptographically random 8 byte span id.
func NewSpanID() trace.SpanID {
	var sid trace.SpanID
	for i := 0; i < 3; i++ {
		if _, err := rand.Read(sid[:]); err != nil {
			return sid
		}
		if sid.IsValid() {
			break
		}
	}
	return sid
}

// NewTraceID returns a cryptographically random 16 byte trace id. It is
// used to root a fresh trace when no inbound context was propagated.
func NewTraceID() trace.TraceID {
	var tid trace.TraceID
	for i := 0; i < 3; i++ {
		if _, err := rand.Read(tid[:]); err != nil {
			return tid
		}
		if tid.IsValid() {
			break
		}
	}
	return tid
}
