// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package steptrace is a lightweight, in-process tracing, logging and
// metrics core for short-lived task steps such as CI pipeline steps.
//
// It propagates a W3C trace context across nested operations and
// subprocess boundaries, records spans, logs and metrics correlated by
// trace and span ids, and exports them to an OTLP/HTTP collector in a
// best-effort, non-blocking manner. It is not an OTel SDK: there is no
// sampling, no batching and no delivery retry. The guiding policy is
// that instrumentation is strictly a side channel - it must never
// change, delay or mask the outcome of the instrumented workload.
//
// # Basic Usage
//
//	exp := exporter.New("http://localhost:4318")
//	tracer := steptrace.New(exp, steptrace.ServiceName("ci-runner"))
//
//	step := tracer.StartStep("build", "repo=octo/widgets")
//	defer step.End(context.Background(), exitCode)
//
//	err := step.Trace("compile", compile)
//	err = step.Retry(ctx, "push", pushArtifact)
package steptrace
