// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package traceparent

import "os"

// DefaultEnvVar is the environment variable subprocesses conventionally
// read their inbound trace context from.
const DefaultEnvVar = "TRACEPARENT"

// Carrier is anything which can hold the current serialized trace context.
// Collaborators that shell out further read the carrier so the spawned
// process inherits the innermost open span as its parent.
type Carrier interface {
	Get() string
	Set(s string)
}

// EnvCarrier propagates the context through a process environment variable.
type EnvCarrier struct {
	Var string
}

// Env returns an EnvCarrier for the conventional TRACEPARENT variable.
func Env() EnvCarrier {
	return EnvCarrier{Var: DefaultEnvVar}
}

// Get implements the Carrier interface.
func (c EnvCarrier) Get() string {
	return os.Getenv(c.name())
}

// Set implements the Carrier interface.
func (c EnvCarrier) Set(s string) {
	os.Setenv(c.name(), s)
}

func (c EnvCarrier) name() string {
	if c.Var == "" {
		return DefaultEnvVar
	}
	return c.Var
}

// MapCarrier is an in-memory Carrier. It is primarily useful for tests
// and for callers that cannot mutate their environment.
type MapCarrier struct {
	value string
}

// Get implements the Carrier interface.
func (c *MapCarrier) Get() string {
	return c.value
}

// Set implements the Carrier interface.
func (c *MapCarrier) Set(s string) {
	c.value = s
}
