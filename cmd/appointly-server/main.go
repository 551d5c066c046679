package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"appointly/backend/internal/async"
	"appointly/backend/internal/cache"
	"appointly/backend/internal/config"
	"appointly/backend/internal/service/availability"
	"appointly/backend/internal/service/booking"
	"appointly/backend/internal/service/exceptions"
	"appointly/backend/internal/service/rules"
	"appointly/backend/internal/telemetry"
	grpcTransport "appointly/backend/internal/transport/grpc"
)

const (
	serviceName    = "appointly-server"
	healthInterval = 15 * time.Second
)

func main() {
	log := newLogger(slog.LevelInfo)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = newLogger(parseLogLevel(cfg.LogLevel))
	slog.SetDefault(log)

	if err := run(log, cfg); err != nil {
		log.Error("server exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg config.Config) error {
	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("log_level", cfg.LogLevel),
		slog.String("storage", cfg.StorageDriver),
		slog.String("cache", cfg.CacheBackend),
		slog.String("timezone", cfg.Timezone.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", slog.Any("err", err))
		}
	}()

	st, err := openStorage(ctx, log, cfg)
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	backend, closeCache := openCacheBackend(ctx, log, cfg)
	defer func() {
		if err := closeCache(); err != nil {
			log.Warn("cache close failed", slog.Any("err", err))
		}
	}()

	sink, closeSink := openSink(log, cfg)
	defer func() {
		if err := closeSink(); err != nil {
			log.Warn("event sink close failed", slog.Any("err", err))
		}
	}()

	runner := async.NewRunner(log, async.DefaultTimeout)
	// Deferred last so it runs first: queued invalidations and events finish
	// before their backends close.
	defer runner.Wait()

	engine := availability.NewEngine(st.schedule, st.services, st.appointments, log,
		availability.WithLocation(cfg.Timezone),
		availability.WithDefaultDays(cfg.DefaultDays),
	)
	cached := cache.NewCachedCalculator(engine, backend, cfg.CacheTTL, log)
	bookings := booking.NewService(engine, st.appointments, cached, sink, runner, log)
	ruleStore := rules.NewStore(st.schedule, cached, runner, log)
	exceptionStore := exceptions.NewStore(st.schedule, cached, runner, log)

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout)),
	)
	grpcTransport.RegisterAvailabilityServiceServer(grpcServer,
		grpcTransport.NewAvailabilityServer(cached, engine, bookings, cached, log))
	grpcTransport.RegisterScheduleServiceServer(grpcServer,
		grpcTransport.NewScheduleServer(ruleStore, exceptionStore, st.services, cached, runner, log))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	go watchStorage(ctx, log, healthServer, st.ping)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		healthServer.Shutdown()
		shutdown(log, grpcServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc server stopped with error", slog.Any("err", err))
			return err
		}
	}
	return nil
}

// watchStorage reports NOT_SERVING for every service while the database
// does not answer pings.
func watchStorage(ctx context.Context, log *slog.Logger, hs *health.Server, ping func(context.Context) error) {
	services := []string{"", grpcTransport.AvailabilityServiceName, grpcTransport.ScheduleServiceName}
	set := func(status healthpb.HealthCheckResponse_ServingStatus) {
		for _, name := range services {
			hs.SetServingStatus(name, status)
		}
	}

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := ping(pingCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			if err != nil {
				log.Warn("storage ping failed", slog.Any("err", err))
			}
			set(status)
			last = status
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With(
		slog.String("service", serviceName),
	)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
