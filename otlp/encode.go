// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otlp

import "encoding/json"

// Encoder builds the three wire payloads from a fixed resource and scope.
// It is pure and side-effect free; callers are expected to swallow any
// returned error and skip the emission.
type Encoder struct {
	Resource Resource
	Scope    Scope
}

// Spans wraps the given spans into a v1/traces body.
func (e Encoder) Spans(spans ...Span) ([]byte, error) {
	return json.Marshal(TracesData{
		ResourceSpans: []ResourceSpans{{
			Resource: e.Resource,
			ScopeSpans: []ScopeSpans{{
				Scope: e.Scope,
				Spans: spans,
			}},
		}},
	})
}

// Logs wraps the given log records into a v1/logs body.
func (e Encoder) Logs(recs ...LogRecord) ([]byte, error) {
	return json.Marshal(LogsData{
		ResourceLogs: []ResourceLogs{{
			Resource: e.Resource,
			ScopeLogs: []ScopeLogs{{
				Scope:      e.Scope,
				LogRecords: recs,
			}},
		}},
	})
}

// Metrics wraps the given metrics into a v1/metrics body.
func (e Encoder) Metrics(metrics ...Metric) ([]byte, error) {
	return json.Marshal(MetricsData{
		ResourceMetrics: []ResourceMetrics{{
			Resource: e.Resource,
			ScopeMetrics: []ScopeMetrics{{
				Scope:   e.Scope,
				Metrics: metrics,
			}},
		}},
	})
}
