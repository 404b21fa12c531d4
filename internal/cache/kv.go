package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

// KV is the small cache surface used by the status read path. Values are
// stored as raw bytes; callers own serialization.
type KV interface {
	// Get returns the value at k, or ErrCacheMiss.
	Get(ctx context.Context, k string) ([]byte, error)
	// Set stores v at k with a ttl. A zero ttl means no expiry.
	Set(ctx context.Context, k string, v []byte, ttl time.Duration) error
	// Delete removes k. Deleting an absent key is not an error.
	Delete(ctx context.Context, k string) error
}
