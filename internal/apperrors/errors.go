package apperrors

import (
	"fmt"
	"time"
)

// ErrInvalidKey represents an error when a cache operation is given an
// unusable key (empty string).
type ErrInvalidKey struct {
	Key string
}

// Error implements the error interface.
func (e *ErrInvalidKey) Error() string {
	if e.Key == "" {
		return "cache key must not be empty"
	}
	return fmt.Sprintf("invalid cache key %q", e.Key)
}

// Is allows for error checking with errors.Is().
func (e *ErrInvalidKey) Is(target error) bool {
	_, ok := target.(*ErrInvalidKey)
	return ok
}

// NewInvalidKeyError creates a new ErrInvalidKey.
func NewInvalidKeyError(key string) *ErrInvalidKey {
	return &ErrInvalidKey{Key: key}
}

// ErrInvalidTTL is returned when a caller requests a negative time-to-live.
// A zero TTL is not an error; it selects the cache-wide default.
type ErrInvalidTTL struct {
	TTL time.Duration
}

// Error implements the error interface.
func (e *ErrInvalidTTL) Error() string {
	return fmt.Sprintf("invalid TTL %s: must not be negative", e.TTL)
}

// Is allows for error checking with errors.Is().
func (e *ErrInvalidTTL) Is(target error) bool {
	_, ok := target.(*ErrInvalidTTL)
	return ok
}

// NewInvalidTTLError creates a new ErrInvalidTTL.
func NewInvalidTTLError(ttl time.Duration) *ErrInvalidTTL {
	return &ErrInvalidTTL{TTL: ttl}
}
