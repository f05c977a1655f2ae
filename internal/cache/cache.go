// Package cache provides the optional KV store discovery snapshots go
// through. Everything cached is recomputable from chain state, so callers
// treat every operation as best-effort.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented KV with per-key TTL. Get returns (nil, nil) for
// a missing key so callers can tell absence from backend failure.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Nop is a Store that caches nothing, used when no backend is configured.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, nil }

func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
