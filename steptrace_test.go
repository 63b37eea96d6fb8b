// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package steptrace

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/z5labs/steptrace/otlp"
	"github.com/z5labs/steptrace/traceparent"

	"github.com/stretchr/testify/assert"
)

const inboundHeader = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

type record struct {
	path    string
	payload []byte
}

type captureExporter struct {
	mu      sync.Mutex
	records []record
	waited  int
}

func (e *captureExporter) Send(path string, payload []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, record{path: path, payload: payload})
}

func (e *captureExporter) WaitLast(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waited++
}

func (e *captureExporter) spans(t *testing.T) []otlp.Span {
	t.Helper()

	e.mu.Lock()
	defer e.mu.Unlock()

	var spans []otlp.Span
	for _, rec := range e.records {
		if rec.path != "v1/traces" {
			continue
		}
		var data otlp.TracesData
		err := json.Unmarshal(rec.payload, &data)
		if !assert.Nil(t, err) {
			t.FailNow()
		}
		for _, rs := range data.ResourceSpans {
			for _, ss := range rs.ScopeSpans {
				spans = append(spans, ss.Spans...)
			}
		}
	}
	return spans
}

func newTestTracer(opts ...Option) (*Tracer, *captureExporter, *traceparent.MapCarrier) {
	exp := new(captureExporter)
	carrier := new(traceparent.MapCarrier)
	tracer := New(exp, append([]Option{Carrier(carrier)}, opts...)...)
	return tracer, exp, carrier
}

func TestAttributes(t *testing.T) {
	t.Run("will return an empty set", func(t *testing.T) {
		t.Run("if no pairs are given", func(t *testing.T) {
			assert.Empty(t, Attributes())
		})
	})

	t.Run("will split on the first equals sign only", func(t *testing.T) {
		t.Run("if a value itself contains an equals sign", func(t *testing.T) {
			attrs := Attributes("a=1", "b=x=y")

			if !assert.Len(t, attrs, 2) {
				return
			}
			assert.Equal(t, otlp.String("a", "1"), attrs[0])
			assert.Equal(t, otlp.String("b", "x=y"), attrs[1])
		})
	})

	t.Run("will keep duplicate keys", func(t *testing.T) {
		t.Run("if the same key appears twice", func(t *testing.T) {
			attrs := Attributes("a=1", "a=2")

			assert.Len(t, attrs, 2)
		})
	})
}

func TestTracer_StartStep(t *testing.T) {
	t.Run("will adopt the inbound context", func(t *testing.T) {
		t.Run("if a valid context was propagated", func(t *testing.T) {
			tracer, _, carrier := newTestTracer()
			carrier.Set(inboundHeader)

			step := tracer.StartStep("build")

			tc := step.Context()
			assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", tc.TraceIDHex())
			assert.Equal(t, "00f067aa0ba902b7", tc.ParentSpanIDHex())
			assert.NotEqual(t, "00f067aa0ba902b7", tc.SpanIDHex())
			assert.True(t, tc.SpanID.IsValid())
		})
	})

	t.Run("will root a fresh trace", func(t *testing.T) {
		t.Run("if no context was propagated", func(t *testing.T) {
			tracer, _, _ := newTestTracer()

			step := tracer.StartStep("build")

			tc := step.Context()
			assert.True(t, tc.TraceID.IsValid())
			assert.True(t, tc.SpanID.IsValid())
			assert.Equal(t, "", tc.ParentSpanIDHex())
		})

		t.Run("if the propagated context is malformed", func(t *testing.T) {
			tracer, _, carrier := newTestTracer()
			carrier.Set("not a traceparent")

			step := tracer.StartStep("build")

			assert.True(t, step.Context().TraceID.IsValid())
		})
	})

	t.Run("will publish the step context", func(t *testing.T) {
		t.Run("if the step span is open", func(t *testing.T) {
			tracer, _, carrier := newTestTracer()
			carrier.Set(inboundHeader)

			step := tracer.StartStep("build")

			published := traceparent.Parse(carrier.Get())
			assert.Equal(t, step.Context().TraceIDHex(), published.TraceIDHex())
			assert.Equal(t, step.Context().SpanIDHex(), published.SpanIDHex())
		})
	})
}

func TestStep_End(t *testing.T) {
	t.Run("will report status OK", func(t *testing.T) {
		t.Run("if the exit code is zero", func(t *testing.T) {
			tracer, exp, _ := newTestTracer()

			step := tracer.StartStep("build")
			step.End(context.Background(), 0)

			spans := exp.spans(t)
			if !assert.Len(t, spans, 1) {
				return
			}
			assert.Equal(t, "step-build", spans[0].Name)
			assert.Equal(t, otlp.StatusCodeOK, spans[0].Status.Code)
		})
	})

	t.Run("will report status ERROR", func(t *testing.T) {
		t.Run("if the exit code is non-zero", func(t *testing.T) {
			tracer, exp, _ := newTestTracer()

			step := tracer.StartStep("build")
			step.End(context.Background(), 2)

			spans := exp.spans(t)
			if !assert.Len(t, spans, 1) {
				return
			}
			assert.Equal(t, otlp.StatusCodeError, spans[0].Status.Code)
		})
	})

	t.Run("will wait for the final export", func(t *testing.T) {
		t.Run("if the step span was exported", func(t *testing.T) {
			tracer, exp, _ := newTestTracer()

			step := tracer.StartStep("build")
			step.End(context.Background(), 0)

			assert.Equal(t, 1, exp.waited)
		})
	})

	t.Run("will attach the step attribute set", func(t *testing.T) {
		t.Run("if caller supplied attributes", func(t *testing.T) {
			tracer, exp, _ := newTestTracer()

			step := tracer.StartStep("build", "repo=octo/widgets")
			step.End(context.Background(), 0)

			spans := exp.spans(t)
			if !assert.Len(t, spans, 1) {
				return
			}
			assert.Equal(t, otlp.String("step.name", "step-build"), spans[0].Attributes[0])
			assert.Contains(t, spans[0].Attributes, otlp.String("repo", "octo/widgets"))
		})
	})
}

func TestStep_Trace(t *testing.T) {
	t.Run("will return the operation's result unchanged", func(t *testing.T) {
		t.Run("if the operation fails", func(t *testing.T) {
			tracer, _, _ := newTestTracer()
			step := tracer.StartStep("build")

			opErr := errors.New("link failed")
			err := step.Trace("link", func() error {
				return opErr
			})

			assert.Equal(t, opErr, err)
		})

		t.Run("if the operation succeeds", func(t *testing.T) {
			tracer, _, _ := newTestTracer()
			step := tracer.StartStep("build")

			err := step.Trace("compile", func() error {
				return nil
			})

			assert.Nil(t, err)
		})
	})

	t.Run("will map the operation outcome onto the span status", func(t *testing.T) {
		t.Run("if the operation fails", func(t *testing.T) {
			tracer, exp, _ := newTestTracer()
			step := tracer.StartStep("build")

			step.Trace("link", func() error {
				return errors.New("link failed")
			})

			spans := exp.spans(t)
			if !assert.Len(t, spans, 1) {
				return
			}
			assert.Equal(t, "link", spans[0].Name)
			assert.Equal(t, otlp.StatusCodeError, spans[0].Status.Code)
		})
	})

	t.Run("will restore the parent context", func(t *testing.T) {
		t.Run("if the traced operation returned", func(t *testing.T) {
			tracer, _, carrier := newTestTracer()
			step := tracer.StartStep("build")

			before := carrier.Get()
			step.Trace("compile", func() error {
				// the nested span must be the propagated context
				// while the operation runs
				assert.NotEqual(t, before, carrier.Get())
				return nil
			})

			assert.Equal(t, before, carrier.Get())
		})

		t.Run("if the traced operation panicked", func(t *testing.T) {
			tracer, _, carrier := newTestTracer()
			step := tracer.StartStep("build")

			before := carrier.Get()
			assert.Panics(t, func() {
				step.Trace("compile", func() error {
					panic("boom")
				})
			})

			assert.Equal(t, before, carrier.Get())
		})
	})

	t.Run("will nest spans", func(t *testing.T) {
		t.Run("if Trace is called within a traced operation", func(t *testing.T) {
			tracer, exp, _ := newTestTracer()
			step := tracer.StartStep("build")

			step.Trace("outer", func() error {
				return step.Trace("inner", func() error {
					return nil
				})
			})

			spans := exp.spans(t)
			if !assert.Len(t, spans, 2) {
				return
			}
			inner, outer := spans[0], spans[1]
			assert.Equal(t, "inner", inner.Name)
			assert.Equal(t, "outer", outer.Name)
			assert.Equal(t, outer.SpanID, inner.ParentSpanID)
			assert.Equal(t, step.Context().SpanIDHex(), outer.ParentSpanID)
		})
	})
}

func TestStep(t *testing.T) {
	t.Run("will emit correlated spans", func(t *testing.T) {
		t.Run("if a step runs traced operations before ending", func(t *testing.T) {
			tracer, exp, carrier := newTestTracer()
			carrier.Set(inboundHeader)

			step := tracer.StartStep("build")
			step.Trace("compile", func() error { return nil })
			step.Trace("link", func() error { return errors.New("undefined symbol") })
			step.End(context.Background(), 1)

			spans := exp.spans(t)
			if !assert.Len(t, spans, 3) {
				return
			}
			compile, link, stepSpan := spans[0], spans[1], spans[2]

			assert.Equal(t, "compile", compile.Name)
			assert.Equal(t, "link", link.Name)
			assert.Equal(t, "step-build", stepSpan.Name)

			// all spans share one trace
			assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", stepSpan.TraceID)
			assert.Equal(t, stepSpan.TraceID, compile.TraceID)
			assert.Equal(t, stepSpan.TraceID, link.TraceID)

			// siblings share the step span as parent
			assert.Equal(t, stepSpan.SpanID, compile.ParentSpanID)
			assert.Equal(t, stepSpan.SpanID, link.ParentSpanID)
			assert.Equal(t, "00f067aa0ba902b7", stepSpan.ParentSpanID)

			assert.Equal(t, otlp.StatusCodeOK, compile.Status.Code)
			assert.Equal(t, otlp.StatusCodeError, link.Status.Code)
			assert.Equal(t, otlp.StatusCodeError, stepSpan.Status.Code)
		})
	})
}

func TestStep_Log(t *testing.T) {
	t.Run("will correlate the record to the step span", func(t *testing.T) {
		t.Run("if emitted while the step is open", func(t *testing.T) {
			tracer, exp, _ := newTestTracer()
			step := tracer.StartStep("build")

			step.Log("compiling 42 files")

			exp.mu.Lock()
			defer exp.mu.Unlock()
			if !assert.Len(t, exp.records, 1) {
				return
			}
			assert.Equal(t, "v1/logs", exp.records[0].path)

			var data otlp.LogsData
			err := json.Unmarshal(exp.records[0].payload, &data)
			if !assert.Nil(t, err) {
				return
			}
			recs := data.ResourceLogs[0].ScopeLogs[0].LogRecords
			if !assert.Len(t, recs, 1) {
				return
			}
			assert.Equal(t, "compiling 42 files", *recs[0].Body.StringValue)
			assert.Equal(t, step.Context().TraceIDHex(), recs[0].TraceID)
			assert.Equal(t, step.Context().SpanIDHex(), recs[0].SpanID)
		})
	})
}

func TestStep_Count(t *testing.T) {
	t.Run("will emit a cumulative monotonic sum", func(t *testing.T) {
		t.Run("if a counter is incremented under an open step", func(t *testing.T) {
			tracer, exp, _ := newTestTracer()
			step := tracer.StartStep("build")

			step.Count("ci.cache.misses", 5)

			exp.mu.Lock()
			defer exp.mu.Unlock()
			if !assert.Len(t, exp.records, 1) {
				return
			}
			assert.Equal(t, "v1/metrics", exp.records[0].path)

			var data otlp.MetricsData
			err := json.Unmarshal(exp.records[0].payload, &data)
			if !assert.Nil(t, err) {
				return
			}
			metrics := data.ResourceMetrics[0].ScopeMetrics[0].Metrics
			if !assert.Len(t, metrics, 1) {
				return
			}
			sum := metrics[0].Sum
			if !assert.NotNil(t, sum) {
				return
			}
			assert.Equal(t, otlp.AggregationTemporalityCumulative, sum.AggregationTemporality)
			assert.True(t, sum.IsMonotonic)

			if !assert.Len(t, sum.DataPoints, 1) {
				return
			}
			dp := sum.DataPoints[0]
			assert.Equal(t, "5", dp.AsInt)

			if !assert.Len(t, dp.Exemplars, 1) {
				return
			}
			assert.Equal(t, "5", dp.Exemplars[0].AsInt)
			assert.Equal(t, step.Context().TraceIDHex(), dp.Exemplars[0].TraceID)
			assert.Equal(t, step.Context().SpanIDHex(), dp.Exemplars[0].SpanID)
		})
	})
}

func TestTracer_Resource(t *testing.T) {
	t.Run("will rebuild the resource descriptor per step", func(t *testing.T) {
		t.Run("if consecutive steps have different names", func(t *testing.T) {
			exp := new(captureExporter)
			carrier := new(traceparent.MapCarrier)
			tracer := New(exp,
				Carrier(carrier),
				ServiceName("ci-runner"),
				ServiceVersion("1.2.3"),
			)

			tracer.StartStep("build").End(context.Background(), 0)
			tracer.StartStep("deploy").End(context.Background(), 0)

			exp.mu.Lock()
			defer exp.mu.Unlock()
			if !assert.Len(t, exp.records, 2) {
				return
			}

			var stepNames []string
			for _, rec := range exp.records {
				var data otlp.TracesData
				err := json.Unmarshal(rec.payload, &data)
				if !assert.Nil(t, err) {
					return
				}
				attrs := data.ResourceSpans[0].Resource.Attributes
				assert.Contains(t, attrs, otlp.String("service.name", "ci-runner"))
				assert.Contains(t, attrs, otlp.String("service.version", "1.2.3"))
				assert.Contains(t, attrs, otlp.String("telemetry.sdk.language", "go"))
				assert.Contains(t, attrs, otlp.String("telemetry.sdk.name", "steptrace"))
				for _, attr := range attrs {
					if attr.Key == "step.name" {
						stepNames = append(stepNames, *attr.Value.StringValue)
					}
				}
			}
			assert.Equal(t, []string{"step-build", "step-deploy"}, stepNames)
		})
	})

	t.Run("will fall back to unknown identity", func(t *testing.T) {
		t.Run("if no service name or version was configured", func(t *testing.T) {
			tracer, exp, _ := newTestTracer()

			tracer.StartStep("build").End(context.Background(), 0)

			exp.mu.Lock()
			defer exp.mu.Unlock()
			var data otlp.TracesData
			err := json.Unmarshal(exp.records[0].payload, &data)
			if !assert.Nil(t, err) {
				return
			}
			attrs := data.ResourceSpans[0].Resource.Attributes
			assert.Contains(t, attrs, otlp.String("service.name", "unknown"))
			assert.Contains(t, attrs, otlp.String("service.version", "unknown"))
		})
	})
}
