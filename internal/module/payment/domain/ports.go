package domain

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Injecting it keeps state-machine logic
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies opaque identifiers for new aggregates and audit entries.
type IDGenerator interface {
	NewID() string
}

// SystemClock is the production Clock backed by the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// UUIDGenerator is the production IDGenerator backed by random UUIDs.
type UUIDGenerator struct{}

// NewID returns a new random UUID string.
func (UUIDGenerator) NewID() string { return uuid.NewString() }
