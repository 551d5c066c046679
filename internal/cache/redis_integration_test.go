package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"appointly/backend/internal/service/availability"
)

func TestRedisIntegration(t *testing.T) {
	addr := os.Getenv("APPOINTLY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("APPOINTLY_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	prefix := "appointly_test_" + hex.EncodeToString(b)
	t.Cleanup(func() {
		iter := rdb.Scan(context.Background(), 0, prefix+":*", 100).Iterator()
		for iter.Next(context.Background()) {
			rdb.Del(context.Background(), iter.Val())
		}
	})

	backend := NewRedisBackend(rdb, prefix)

	t.Run("get missing", func(t *testing.T) {
		_, ok, err := backend.Get(ctx, "nope")
		if err != nil || ok {
			t.Fatalf("Get = ok %v, err %v; want miss", ok, err)
		}
	})

	t.Run("versions", func(t *testing.T) {
		if v, err := backend.Version(ctx, "ver:x"); err != nil || v != 0 {
			t.Fatalf("Version = %d, %v", v, err)
		}
		if v, err := backend.Bump(ctx, "ver:x"); err != nil || v != 1 {
			t.Fatalf("Bump = %d, %v", v, err)
		}
		if v, err := backend.Version(ctx, "ver:x"); err != nil || v != 1 {
			t.Fatalf("Version = %d, %v", v, err)
		}
	})

	t.Run("calculator round trip", func(t *testing.T) {
		calc := &fakeCalculator{}
		c := NewCachedCalculator(calc, backend, time.Minute, discard())

		for i := 0; i < 2; i++ {
			if _, err := c.Calculate(ctx, "b1", "s1", availability.Options{Days: 7}); err != nil {
				t.Fatalf("Calculate: %v", err)
			}
		}
		if got := calc.calls.Load(); got != 1 {
			t.Fatalf("calls = %d, want 1", got)
		}
		if got := c.Stats(ctx, "b1").Entries; got != 1 {
			t.Fatalf("entries = %d, want 1", got)
		}

		if err := c.InvalidateBusiness(ctx, "b1"); err != nil {
			t.Fatalf("InvalidateBusiness: %v", err)
		}
		if _, err := c.Calculate(ctx, "b1", "s1", availability.Options{Days: 7}); err != nil {
			t.Fatal(err)
		}
		if got := calc.calls.Load(); got != 2 {
			t.Fatalf("calls after invalidation = %d, want 2", got)
		}
	})
}
