package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"appointly/backend/internal/cache"
	"appointly/backend/internal/config"
	"appointly/backend/internal/notify"
	"appointly/backend/internal/store"
	"appointly/backend/internal/store/memory"
	"appointly/backend/internal/store/postgres"
)

// storage bundles the repositories behind whichever driver is configured.
type storage struct {
	schedule     store.ScheduleRepository
	services     serviceRepo
	appointments store.AppointmentRepository

	ping  func(context.Context) error
	close func() error
}

type serviceRepo interface {
	store.ServiceCatalog
	store.ServiceWriter
}

func openStorage(ctx context.Context, log *slog.Logger, cfg config.Config) (*storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		st := memory.New()
		return &storage{
			schedule:     st,
			services:     st,
			appointments: st,
			ping:         func(context.Context) error { return nil },
			close:        func() error { return nil },
		}, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseMigrate {
		if err := postgres.Migrate(db.DB, log); err != nil {
			_ = postgres.Close(db)
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return postgresStorage(db), nil
}

func postgresStorage(db *bun.DB) *storage {
	return &storage{
		schedule:     postgres.NewScheduleRepo(db),
		services:     postgres.NewServiceRepo(db),
		appointments: postgres.NewAppointmentRepo(db),
		ping:         postgres.Ping(db),
		close:        func() error { return postgres.Close(db) },
	}
}

// openCacheBackend never fails: an unreachable Redis degrades to the
// in-process LRU so availability keeps being served.
func openCacheBackend(ctx context.Context, log *slog.Logger, cfg config.Config) (cache.Backend, func() error) {
	noClose := func() error { return nil }
	switch cfg.CacheBackend {
	case config.CacheNone:
		return cache.NopBackend{}, noClose
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis unavailable, falling back to memory cache", slog.String("redis_addr", cfg.RedisAddr), slog.Any("err", err))
			_ = rdb.Close()
			break
		}
		log.Info("redis cache connected", slog.String("redis_addr", cfg.RedisAddr))
		return cache.NewRedisBackend(rdb, "appointly"), rdb.Close
	}
	return cache.NewMemoryBackend(cfg.CacheMaxEntries, cfg.CacheTTL), noClose
}

func openSink(log *slog.Logger, cfg config.Config) (notify.Sink, func() error) {
	brokers := notify.SplitBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return notify.NewLogSink(log), func() error { return nil }
	}
	log.Info("publishing appointment events to kafka", slog.Any("brokers", brokers), slog.String("topic", cfg.KafkaTopic))
	sink := notify.NewKafkaSink(brokers, cfg.KafkaTopic)
	return sink, sink.Close
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
