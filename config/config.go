// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config provides very easy to use configuration reading for the
// handful of values the telemetry core needs. Missing values are left to
// the caller to default; reading never fails the workload over a value
// it can degrade gracefully without.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Store represents a general key value structure.
type Store interface {
	Set(key string, value any)
}

// Source defines valid config sources as those who can serialize
// themselves into a key value like structure.
type Source interface {
	Apply(Store) error
}

// Map is an in-memory Store and Source.
type Map map[string]any

// Set implements the Store interface.
func (m Map) Set(key string, value any) {
	m[key] = value
}

// Apply implements the Source interface.
func (m Map) Apply(store Store) error {
	for k, v := range m {
		store.Set(k, v)
	}
	return nil
}

// Manager
type Manager struct {
	store Map
}

// Read applies the given sources in order. Subsequent sources override
// previous sources.
func Read(srcs ...Source) (*Manager, error) {
	store := make(Map)
	for _, src := range srcs {
		err := src.Apply(store)
		if err != nil {
			return nil, err
		}
	}
	return &Manager{store: store}, nil
}

// Unmarshal decodes the read values into v. Struct fields are matched by
// their "config" tag; strings decode into time.Duration values.
func (m *Manager) Unmarshal(v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		Result:           v,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}

	err = dec.Decode(m.store)
	if err != nil {
		return UnmarshalError{Cause: err}
	}
	return nil
}

// UnmarshalError occurs when the read config values can not be decoded
// into the caller's type.
type UnmarshalError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e UnmarshalError) Error() string {
	return fmt.Sprintf("failed to unmarshal config: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e UnmarshalError) Unwrap() error {
	return e.Cause
}
