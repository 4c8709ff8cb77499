package cache

import (
	"context"
	"time"
)

// FlagCache caches derived boolean flags keyed by string. Get reports the
// value and whether the key was present; Delete invalidates.
type FlagCache interface {
	Get(ctx context.Context, key string) (value, found bool, err error)
	Set(ctx context.Context, key string, value bool, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NoopFlagCache is used when no cache backend is configured: every read
// misses and every write succeeds silently.
type NoopFlagCache struct{}

func (NoopFlagCache) Get(_ context.Context, _ string) (bool, bool, error) {
	return false, false, nil
}

func (NoopFlagCache) Set(_ context.Context, _ string, _ bool, _ time.Duration) error {
	return nil
}

func (NoopFlagCache) Delete(_ context.Context, _ string) error {
	return nil
}
