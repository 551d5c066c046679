package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/puzpuzpuz/xsync/v3"
)

const DefaultMaxEntries = 1024

// MemoryBackend keeps entries in a size-bounded LRU whose TTL is fixed at
// construction; the per-call ttl passed to Set is ignored.
type MemoryBackend struct {
	entries  *expirable.LRU[string, []byte]
	versions *xsync.MapOf[string, int64]
}

func NewMemoryBackend(maxEntries int, ttl time.Duration) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryBackend{
		entries:  expirable.NewLRU[string, []byte](maxEntries, nil, ttl),
		versions: xsync.NewMapOf[string, int64](),
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.entries.Get(key)
	return v, ok, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.entries.Add(key, value)
	return nil
}

func (m *MemoryBackend) Version(ctx context.Context, key string) (int64, error) {
	v, _ := m.versions.Load(key)
	return v, nil
}

func (m *MemoryBackend) Bump(ctx context.Context, key string) (int64, error) {
	v, _ := m.versions.Compute(key, func(old int64, loaded bool) (int64, bool) {
		return old + 1, false
	})
	return v, nil
}

func (m *MemoryBackend) Count(ctx context.Context, prefix string) (int, error) {
	n := 0
	for _, k := range m.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}
