// Package idgen generates the identifiers used by the run log: time-sortable
// UUIDv7 strings, optionally prefixed per entity type.
package idgen

import "github.com/google/uuid"

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator producing RFC 9562 UUID v7 strings.
// Time-sortable, so run-log rows order naturally by ID.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps gen and prepends a fixed prefix to every ID
// (e.g. "run_", "out_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the module-wide default generator.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
