// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otlp defines the OTLP/JSON wire shapes for traces, logs and
// metrics. Only the subset of the protocol emitted by this module is
// modelled; field names and nesting exactly mirror what an OTLP/HTTP
// collector expects on v1/traces, v1/logs and v1/metrics.
package otlp

import (
	"strconv"
	"time"
)

// Span kind and status code values from the OTLP protocol. Every span
// emitted by this module is an internal span.
const (
	SpanKindInternal = 1

	StatusCodeOK    = 1
	StatusCodeError = 2
)

// AggregationTemporalityCumulative marks a sum as a running total.
// Exemplar preservation requires cumulative temporality even though the
// increments recorded by callers are semantically deltas.
const AggregationTemporalityCumulative = 2

// AnyValue is the OTLP polymorphic value. Integers are encoded as decimal
// strings per the protocol's JSON mapping of 64-bit types.
type AnyValue struct {
	StringValue *string `json:"stringValue,omitempty"`
	IntValue    *string `json:"intValue,omitempty"`
}

// StringValue wraps s as an AnyValue.
func StringValue(s string) AnyValue {
	return AnyValue{StringValue: &s}
}

// KeyValue is a single attribute.
type KeyValue struct {
	Key   string   `json:"key"`
	Value AnyValue `json:"value"`
}

// String builds a string attribute.
func String(key, value string) KeyValue {
	return KeyValue{Key: key, Value: AnyValue{StringValue: &value}}
}

// Int builds an integer attribute.
func Int(key string, value int64) KeyValue {
	s := strconv.FormatInt(value, 10)
	return KeyValue{Key: key, Value: AnyValue{IntValue: &s}}
}

// Resource holds the fixed attributes describing the emitting process.
type Resource struct {
	Attributes []KeyValue `json:"attributes"`
}

// Scope identifies the instrumentation emitting a record.
type Scope struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Status is the outcome of a span.
type Status struct {
	Code int `json:"code"`
}

// Span is a single OTLP span.
type Span struct {
	TraceID           string     `json:"traceId"`
	SpanID            string     `json:"spanId"`
	ParentSpanID      string     `json:"parentSpanId,omitempty"`
	Name              string     `json:"name"`
	Kind              int        `json:"kind"`
	StartTimeUnixNano string     `json:"startTimeUnixNano"`
	EndTimeUnixNano   string     `json:"endTimeUnixNano"`
	Attributes        []KeyValue `json:"attributes,omitempty"`
	Status            Status     `json:"status"`
}

// ScopeSpans groups spans under one instrumentation scope.
type ScopeSpans struct {
	Scope Scope  `json:"scope"`
	Spans []Span `json:"spans"`
}

// ResourceSpans groups scope spans under one resource.
type ResourceSpans struct {
	Resource   Resource     `json:"resource"`
	ScopeSpans []ScopeSpans `json:"scopeSpans"`
}

// TracesData is the body POSTed to v1/traces.
type TracesData struct {
	ResourceSpans []ResourceSpans `json:"resourceSpans"`
}

// LogRecord is a single OTLP log record correlated to a span.
type LogRecord struct {
	TimeUnixNano string     `json:"timeUnixNano"`
	Body         AnyValue   `json:"body"`
	Attributes   []KeyValue `json:"attributes,omitempty"`
	TraceID      string     `json:"traceId"`
	SpanID       string     `json:"spanId"`
}

// ScopeLogs groups log records under one instrumentation scope.
type ScopeLogs struct {
	Scope      Scope       `json:"scope"`
	LogRecords []LogRecord `json:"logRecords"`
}

// ResourceLogs groups scope logs under one resource.
type ResourceLogs struct {
	Resource  Resource    `json:"resource"`
	ScopeLogs []ScopeLogs `json:"scopeLogs"`
}

// LogsData is the body POSTed to v1/logs.
type LogsData struct {
	ResourceLogs []ResourceLogs `json:"resourceLogs"`
}

// Exemplar pins a metric datapoint to the trace and span active when the
// measurement was recorded.
type Exemplar struct {
	TimeUnixNano string `json:"timeUnixNano"`
	AsInt        string `json:"asInt"`
	TraceID      string `json:"traceId"`
	SpanID       string `json:"spanId"`
}

// NumberDataPoint is a single integer datapoint.
type NumberDataPoint struct {
	Attributes   []KeyValue `json:"attributes,omitempty"`
	TimeUnixNano string     `json:"timeUnixNano"`
	AsInt        string     `json:"asInt"`
	Exemplars    []Exemplar `json:"exemplars,omitempty"`
}

// Sum is a sum aggregation of datapoints.
type Sum struct {
	DataPoints             []NumberDataPoint `json:"dataPoints"`
	AggregationTemporality int               `json:"aggregationTemporality"`
	IsMonotonic            bool              `json:"isMonotonic"`
}

// Metric is a single named metric.
type Metric struct {
	Name string `json:"name"`
	Sum  *Sum   `json:"sum,omitempty"`
}

// ScopeMetrics groups metrics under one instrumentation scope.
type ScopeMetrics struct {
	Scope   Scope    `json:"scope"`
	Metrics []Metric `json:"metrics"`
}

// ResourceMetrics groups scope metrics under one resource.
type ResourceMetrics struct {
	Resource     Resource       `json:"resource"`
	ScopeMetrics []ScopeMetrics `json:"scopeMetrics"`
}

// MetricsData is the body POSTed to v1/metrics.
type MetricsData struct {
	ResourceMetrics []ResourceMetrics `json:"resourceMetrics"`
}

// UnixNano formats t as the nanosecond-since-epoch decimal string the
// protocol requires for timestamps.
func UnixNano(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}
