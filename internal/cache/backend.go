// Package cache memoizes multi-day availability results. It is never a
// correctness boundary: every failure degrades to a live calculation.
package cache

import (
	"context"
	"time"
)

// Backend stores opaque values and monotonically increasing version counters.
// Versions never expire; bumping one orphans every key built from the old value.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Version(ctx context.Context, key string) (int64, error)
	Bump(ctx context.Context, key string) (int64, error)
	// Count reports how many live entries start with prefix.
	Count(ctx context.Context, prefix string) (int, error)
}

// Error wraps a failed backend call. Callers log it and fall through to a
// live calculation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return "cache " + e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NopBackend never stores anything. It keeps the calculator API available when
// caching is switched off.
type NopBackend struct{}

func (NopBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NopBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (NopBackend) Version(ctx context.Context, key string) (int64, error) {
	return 0, nil
}

func (NopBackend) Bump(ctx context.Context, key string) (int64, error) {
	return 0, nil
}

func (NopBackend) Count(ctx context.Context, prefix string) (int, error) {
	return 0, nil
}
