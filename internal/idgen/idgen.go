// Package idgen provides the server's clock and id-generation primitives.
package idgen

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time so pipeline and repository tests can use a
// fixed instant instead of time.Now.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IdGen generates entity ids. The production implementation returns random
// UUIDv4 strings; tests substitute a deterministic sequence.
type IdGen interface {
	NewID() string
}

// UUIDGen is the production IdGen backed by google/uuid.
type UUIDGen struct{}

func (UUIDGen) NewID() string { return uuid.NewString() }
