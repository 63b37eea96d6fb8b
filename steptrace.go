// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package steptrace

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/z5labs/steptrace/otlp"
	"github.com/z5labs/steptrace/traceparent"

	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Version is the version of this module reported in the
// telemetry.sdk.version resource attribute.
const Version = "0.1.0"

const (
	scopeName   = "github.com/z5labs/steptrace"
	sdkName     = "steptrace"
	stepNameKey = "step.name"
)

// Status is the outcome of a span.
type Status int

const (
	// StatusOK marks a span whose operation succeeded.
	StatusOK Status = iota + 1

	// StatusError marks a span whose operation failed.
	StatusError
)

// Code returns the OTLP status code for s.
func (s Status) Code() int {
	if s == StatusError {
		return otlp.StatusCodeError
	}
	return otlp.StatusCodeOK
}

// String implements the [fmt.Stringer] interface.
func (s Status) String() string {
	if s == StatusError {
		return "ERROR"
	}
	return "OK"
}

func statusFrom(err error) Status {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// Exporter delivers an encoded record to a collector endpoint without
// blocking the caller. exporter.Exporter implements it.
type Exporter interface {
	Send(path string, payload []byte)
	WaitLast(ctx context.Context)
}

// Attributes converts ordered "key=value" pairs into attributes. Pairs
// are split on the first "=" only, so "b=x=y" yields key "b" with value
// "x=y". Keys are not deduplicated.
func Attributes(pairs ...string) []otlp.KeyValue {
	kvs := make([]otlp.KeyValue, 0, len(pairs))
	for _, pair := range pairs {
		k, v, _ := strings.Cut(pair, "=")
		kvs = append(kvs, otlp.String(k, v))
	}
	return kvs
}

// Tracer owns step span lifecycles. It holds no step state itself so a
// single Tracer can safely start multiple steps, concurrently or not.
type Tracer struct {
	serviceName    string
	serviceVersion string
	exp            Exporter
	carrier        traceparent.Carrier
	log            *zap.Logger
}

// Option configures a Tracer.
type Option func(*Tracer)

// ServiceName sets the service.name resource attribute.
func ServiceName(name string) Option {
	return func(t *Tracer) {
		if name == "" {
			return
		}
		t.serviceName = name
	}
}

// ServiceVersion sets the service.version resource attribute.
func ServiceVersion(version string) Option {
	return func(t *Tracer) {
		if version == "" {
			return
		}
		t.serviceVersion = version
	}
}

// Carrier sets where the current trace context is read from and
// published to. Defaults to the TRACEPARENT environment variable so
// spawned subprocesses inherit the innermost open span.
func Carrier(c traceparent.Carrier) Option {
	return func(t *Tracer) {
		t.carrier = c
	}
}

// Logger sets the logger for internal diagnostics.
func Logger(logger *zap.Logger) Option {
	return func(t *Tracer) {
		t.log = logger
	}
}

// New returns a Tracer which exports all records through exp.
func New(exp Exporter, opts ...Option) *Tracer {
	t := &Tracer{
		serviceName:    "unknown",
		serviceVersion: "unknown",
		exp:            exp,
		carrier:        traceparent.Env(),
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Step is one open step span and the state scoped to it: the trace
// context, the attribute set inherited by every record emitted while the
// step is open, and the resource descriptor.
type Step struct {
	tracer *Tracer
	name   string
	ctx    traceparent.Context
	attrs  []otlp.KeyValue
	enc    otlp.Encoder
	start  time.Time
}

// StartStep opens a step span named "step-"+name. The inbound propagated
// context supplies the trace id, parent span id and flags; when none is
// present a fresh trace is rooted instead. The updated context is
// published back to the carrier so subsequent operations and spawned
// processes nest under the step.
func (t *Tracer) StartStep(name string, attrs ...string) *Step {
	stepName := "step-" + name

	inbound := traceparent.Parse(t.carrier.Get())
	ctx := traceparent.Context{
		TraceID:      inbound.TraceID,
		SpanID:       traceparent.NewSpanID(),
		ParentSpanID: inbound.SpanID,
		Flags:        inbound.Flags,
	}
	if !ctx.TraceID.IsValid() {
		ctx.TraceID = traceparent.NewTraceID()
		ctx.Flags = trace.FlagsSampled
	}

	step := &Step{
		tracer: t,
		name:   stepName,
		ctx:    ctx,
		attrs:  append([]otlp.KeyValue{otlp.String(stepNameKey, stepName)}, Attributes(attrs...)...),
		enc: otlp.Encoder{
			Resource: otlp.Resource{
				Attributes: resourceAttributes(t.serviceName, t.serviceVersion, stepName),
			},
			Scope: otlp.Scope{
				Name:    scopeName,
				Version: Version,
			},
		},
		start: time.Now(),
	}

	t.carrier.Set(ctx.String())
	return step
}

// Context returns the step's own span context.
func (s *Step) Context() traceparent.Context {
	return s.ctx
}

// End closes the step span with status derived from exitCode (ERROR for
// any non-zero code), exports it and blocks until that export, and only
// that export, has completed or been abandoned. It is intended to run on
// every exit path, e.g. via defer or a lifecycle post-run hook.
func (s *Step) End(ctx context.Context, exitCode int) {
	status := StatusOK
	if exitCode != 0 {
		status = StatusError
	}
	s.exportSpan(s.ctx, s.name, s.start, time.Now(), status)
	s.tracer.exp.WaitLast(ctx)
}

// Trace runs op as a nested span. The child context derives from the
// currently propagated context, so traced operations nest arbitrarily,
// and the prior context is restored when op returns so sibling spans
// share a parent. The span status maps from op's error, which is always
// returned unchanged: telemetry failures never alter the outcome.
func (s *Step) Trace(name string, op func() error) error {
	token := s.tracer.carrier.Get()
	parent := traceparent.Parse(token)
	if !parent.Valid() {
		parent = s.ctx
	}

	child := parent.Child()
	s.tracer.carrier.Set(child.String())
	defer s.tracer.carrier.Set(token)

	start := time.Now()
	err := op()

	s.exportSpan(child, name, start, time.Now(), statusFrom(err))
	return err
}

// Log emits one log record correlated to the step span. Nested child
// spans are deliberately not referenced; log lines always attach to the
// step itself.
func (s *Step) Log(body string) {
	payload, err := s.enc.Logs(otlp.LogRecord{
		TimeUnixNano: otlp.UnixNano(time.Now()),
		Body:         otlp.StringValue(body),
		Attributes:   s.attrs,
		TraceID:      s.ctx.TraceIDHex(),
		SpanID:       s.ctx.SpanIDHex(),
	})
	if err != nil {
		s.tracer.log.Debug("skipping log emission", zap.Error(err))
		return
	}
	s.tracer.exp.Send("v1/logs", payload)
}

// Count emits a monotonic counter increment as a cumulative sum
// datapoint with an exemplar pinning it to the step span. Cumulative
// temporality is required for exemplar preservation even though each
// recorded value is semantically a delta; consumers should query a rate
// or increase over time rather than the raw value.
func (s *Step) Count(name string, delta int64) {
	now := otlp.UnixNano(time.Now())
	value := strconv.FormatInt(delta, 10)

	payload, err := s.enc.Metrics(otlp.Metric{
		Name: name,
		Sum: &otlp.Sum{
			DataPoints: []otlp.NumberDataPoint{{
				Attributes:   s.attrs,
				TimeUnixNano: now,
				AsInt:        value,
				Exemplars: []otlp.Exemplar{{
					TimeUnixNano: now,
					AsInt:        value,
					TraceID:      s.ctx.TraceIDHex(),
					SpanID:       s.ctx.SpanIDHex(),
				}},
			}},
			AggregationTemporality: otlp.AggregationTemporalityCumulative,
			IsMonotonic:            true,
		},
	})
	if err != nil {
		s.tracer.log.Debug("skipping metric emission", zap.Error(err))
		return
	}
	s.tracer.exp.Send("v1/metrics", payload)
}

func (s *Step) exportSpan(tc traceparent.Context, name string, start, end time.Time, status Status) {
	payload, err := s.enc.Spans(otlp.Span{
		TraceID:           tc.TraceIDHex(),
		SpanID:            tc.SpanIDHex(),
		ParentSpanID:      tc.ParentSpanIDHex(),
		Name:              name,
		Kind:              otlp.SpanKindInternal,
		StartTimeUnixNano: otlp.UnixNano(start),
		EndTimeUnixNano:   otlp.UnixNano(end),
		Attributes:        s.attrs,
		Status:            otlp.Status{Code: status.Code()},
	})
	if err != nil {
		s.tracer.log.Debug("skipping span emission", zap.Error(err))
		return
	}
	s.tracer.exp.Send("v1/traces", payload)
}

func resourceAttributes(service, version, stepName string) []otlp.KeyValue {
	host, _ := os.Hostname()
	return []otlp.KeyValue{
		otlp.String(string(semconv.ServiceNameKey), service),
		otlp.String(string(semconv.ServiceVersionKey), version),
		otlp.String(string(semconv.HostNameKey), host),
		otlp.String(string(semconv.TelemetrySDKLanguageKey), "go"),
		otlp.String(string(semconv.TelemetrySDKNameKey), sdkName),
		otlp.String(string(semconv.TelemetrySDKVersionKey), Version),
		otlp.String(stepNameKey, stepName),
	}
}
