package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr() != "0.0.0.0:50051" {
		t.Errorf("GRPCAddr = %q", cfg.GRPCAddr())
	}
	if cfg.StorageDriver != StoragePostgres || cfg.CacheBackend != CacheMemory {
		t.Errorf("storage = %q cache = %q", cfg.StorageDriver, cfg.CacheBackend)
	}
	if cfg.CacheTTL != 5*time.Minute || cfg.GRPCRequestTimeout != 10*time.Second {
		t.Errorf("cache ttl = %v request timeout = %v", cfg.CacheTTL, cfg.GRPCRequestTimeout)
	}
	if cfg.Timezone != time.UTC || cfg.DefaultDays != 30 {
		t.Errorf("timezone = %v default days = %d", cfg.Timezone, cfg.DefaultDays)
	}
	if !cfg.DatabaseMigrate || cfg.OTelEnabled {
		t.Errorf("migrate = %v otel = %v", cfg.DatabaseMigrate, cfg.OTelEnabled)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APPOINTLY_GRPC_ADDR", "127.0.0.1:6000")
	t.Setenv("APPOINTLY_STORAGE_DRIVER", "Memory")
	t.Setenv("APPOINTLY_CACHE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("APPOINTLY_CACHE_TTL", "30s")
	t.Setenv("APPOINTLY_AVAILABILITY_TIMEZONE", "Europe/Berlin")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr() != "127.0.0.1:6000" {
		t.Errorf("GRPCAddr = %q", cfg.GRPCAddr())
	}
	if cfg.StorageDriver != StorageMemory {
		t.Errorf("StorageDriver = %q", cfg.StorageDriver)
	}
	if cfg.CacheBackend != CacheRedis || cfg.RedisAddr != "redis:6379" || cfg.CacheTTL != 30*time.Second {
		t.Errorf("cache = %q addr = %q ttl = %v", cfg.CacheBackend, cfg.RedisAddr, cfg.CacheTTL)
	}
	if cfg.Timezone.String() != "Europe/Berlin" {
		t.Errorf("Timezone = %v", cfg.Timezone)
	}
	if cfg.KafkaBrokers != "k1:9092,k2:9092" {
		t.Errorf("KafkaBrokers = %q", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name, key, value string
	}{
		{name: "duration", key: "APPOINTLY_SHUTDOWN_TIMEOUT", value: "soon"},
		{name: "storage", key: "APPOINTLY_STORAGE_DRIVER", value: "sqlite"},
		{name: "cache", key: "APPOINTLY_CACHE_BACKEND", value: "memcached"},
		{name: "timezone", key: "APPOINTLY_AVAILABILITY_TIMEZONE", value: "Mars/Olympus"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.value)
			}
		})
	}
}
