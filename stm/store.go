// Package stm implements the short-term memory buffer: a TTL-bounded cache
// of recent conversation exchanges and the distilled candidate notes derived
// from them.
package stm

import (
	"context"
	"time"
)

// TTLStore is the minimal key-value surface the buffer needs: an
// insertion-ordered list per key, scalar get/set, and an atomic multi-key
// delete. Every write refreshes the key's TTL.
type TTLStore interface {
	// ListPush prepends value to the list at key and resets the key's TTL.
	ListPush(ctx context.Context, key, value string, ttl time.Duration) error
	// ListRange returns the full list at key, most recently pushed first.
	// A missing key yields an empty slice, not an error.
	ListRange(ctx context.Context, key string) ([]string, error)
	// Set stores value at key with the given TTL, replacing any prior value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value at key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Delete removes all given keys in one atomic operation.
	Delete(ctx context.Context, keys ...string) error
	// Ping checks store reachability.
	Ping(ctx context.Context) error
}
