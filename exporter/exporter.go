// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package exporter delivers encoded telemetry records to an OTLP/HTTP
// collector. Delivery is fire-and-forget: records are POSTed from a
// detached goroutine bounded by a short timeout, failures are dropped
// and never surfaced to the instrumented workload.
package exporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/z5labs/steptrace/internal/try"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 5 * time.Second

// Exporter posts telemetry payloads to a collector base endpoint. The zero
// value is not usable; construct one with New. An Exporter with an empty
// endpoint silently drops every record.
type Exporter struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	log      *zap.Logger

	mu   sync.Mutex
	last chan struct{}
}

type options struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an Exporter.
type Option func(*options)

// Timeout overrides the per-delivery timeout.
func Timeout(d time.Duration) Option {
	return func(o *options) {
		if d <= 0 {
			return
		}
		o.timeout = d
	}
}

// Logger sets the logger used for delivery diagnostics. Deliveries are
// best-effort so failures are only ever logged, never returned.
func Logger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// HTTPClient overrides the underlying http.Client.
func HTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// New returns an Exporter targeting the given collector base endpoint,
// e.g. "http://localhost:4318".
func New(endpoint string, opts ...Option) *Exporter {
	o := &options{
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.client == nil {
		o.client = NewClient(
			WithTransport(RoundTripperWith(
				http.DefaultTransport,
				CircuitBreaker(CircuitLogger(o.logger)),
			)),
		)
	}

	return &Exporter{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   o.client,
		timeout:  o.timeout,
		log:      o.logger,
	}
}

// Send launches a non-blocking delivery of payload to
// endpoint + "/" + path. The caller does not wait for completion and is
// never told whether delivery succeeded.
func (e *Exporter) Send(path string, payload []byte) {
	if e == nil || e.endpoint == "" || len(payload) == 0 {
		return
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.last = done
	e.mu.Unlock()

	go func() {
		defer close(done)

		var err error
		defer func() {
			if err != nil {
				e.log.Debug("dropped telemetry record",
					zap.String("path", path),
					zap.Error(err),
				)
			}
		}()
		defer try.Recover(&err)

		err = e.post(path, payload)
	}()
}

func (e *Exporter) post(path string, payload []byte) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/"+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer try.Close(&err, resp.Body)

	// drain so the connection can be reused
	_, err = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector responded with status code %d", resp.StatusCode)
	}
	return nil
}

// WaitLast blocks until the most recently launched delivery has finished
// or been abandoned. Earlier in-flight deliveries are not joined; this is
// an accepted best-effort trade-off at process exit.
func (e *Exporter) WaitLast(ctx context.Context) {
	if e == nil {
		return
	}

	e.mu.Lock()
	last := e.last
	e.mu.Unlock()
	if last == nil {
		return
	}

	select {
	case <-last:
	case <-ctx.Done():
	}
}
