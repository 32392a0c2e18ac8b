// Package kv is the durable key-value collaborator behind the catalog cache
// and the preference store. Backends: in-memory, local files, PostgreSQL
// (subpackage postgres) and S3-compatible object storage.
package kv

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Well-known keys. Each holds a single JSON document.
const (
	KeyEventsCache     = "eventsDataCache"
	KeyUserPreferences = "userPreferences"
)

// ErrUnavailable marks any failure of the underlying storage (disabled,
// full, unreachable). Absence of a key is not an error.
var ErrUnavailable = errors.New("storage unavailable")

// Store is the minimal get/set/remove surface the cache and preference
// store need. Set replaces the whole value; readers see either the old or
// the new value, never a partial write.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateKey rejects keys that cannot be mapped safely onto file names or
// object keys.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while
// the original cause stays inspectable.
func Unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, key, err)
}
