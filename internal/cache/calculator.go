package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc/pool"
	"github.com/vmihailenco/msgpack/v5"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/service/availability"
)

const (
	DefaultTTL = 5 * time.Minute

	warmUpConcurrency = 4
)

// Calculator is the slice of the availability engine the cache wraps. Today
// and ResolveDays let two requests for the same window share a key.
type Calculator interface {
	Calculate(ctx context.Context, businessID, serviceID string, opts availability.Options) ([]domain.AvailabilitySlot, error)
	Today() string
	ResolveDays(days int) int
}

type Stats struct {
	BusinessID string
	Hits       int64
	Misses     int64
	HitRate    float64
	Entries    int
	Version    int64
}

type counters struct {
	hits   *xsync.Counter
	misses *xsync.Counter
}

// CachedCalculator memoizes Calculate per business, service and resolved
// options. Invalidation bumps a version counter that is part of every key, so
// stale entries are never read again and simply age out.
type CachedCalculator struct {
	calc    Calculator
	backend Backend
	ttl     time.Duration
	log     *slog.Logger
	stats   *xsync.MapOf[string, counters]
}

func NewCachedCalculator(calc Calculator, backend Backend, ttl time.Duration, log *slog.Logger) *CachedCalculator {
	if backend == nil {
		backend = NopBackend{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedCalculator{
		calc:    calc,
		backend: backend,
		ttl:     ttl,
		log:     log.With(slog.String("component", "cache")),
		stats:   xsync.NewMapOf[string, counters](),
	}
}

func businessVersionKey(businessID string) string {
	return "ver:b:" + businessID
}

func serviceVersionKey(businessID, serviceID string) string {
	return "ver:s:" + businessID + ":" + serviceID
}

func entryPrefix(businessID string, version int64) string {
	return "avail:" + businessID + ":b" + strconv.FormatInt(version, 10) + ":"
}

// Calculate serves from the cache when it can. Engine errors are returned and
// never cached; backend errors are logged and ignored.
func (c *CachedCalculator) Calculate(ctx context.Context, businessID, serviceID string, opts availability.Options) ([]domain.AvailabilitySlot, error) {
	key, err := c.key(ctx, businessID, serviceID, opts)
	if err != nil {
		c.warn(err)
		return c.calc.Calculate(ctx, businessID, serviceID, opts)
	}

	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.warn(&Error{Op: "get", Key: key, Err: err})
	}
	if ok {
		var out []domain.AvailabilitySlot
		err := msgpack.Unmarshal(raw, &out)
		if err == nil {
			c.counters(businessID).hits.Inc()
			return out, nil
		}
		c.warn(&Error{Op: "decode", Key: key, Err: err})
	}
	c.counters(businessID).misses.Inc()

	out, err := c.calc.Calculate(ctx, businessID, serviceID, opts)
	if err != nil {
		return nil, err
	}
	raw, err = msgpack.Marshal(out)
	if err != nil {
		c.warn(&Error{Op: "encode", Key: key, Err: err})
		return out, nil
	}
	if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
		c.warn(&Error{Op: "set", Key: key, Err: err})
	}
	return out, nil
}

// InvalidateBusiness orphans every cached window for the business.
func (c *CachedCalculator) InvalidateBusiness(ctx context.Context, businessID string) error {
	vk := businessVersionKey(businessID)
	v, err := c.backend.Bump(ctx, vk)
	if err != nil {
		return &Error{Op: "invalidate", Key: vk, Err: err}
	}
	c.log.Debug("business cache invalidated", slog.String("business_id", businessID), slog.Int64("version", v))
	return nil
}

// InvalidateService orphans cached windows computed for one service only.
func (c *CachedCalculator) InvalidateService(ctx context.Context, serviceID, businessID string) error {
	vk := serviceVersionKey(businessID, serviceID)
	v, err := c.backend.Bump(ctx, vk)
	if err != nil {
		return &Error{Op: "invalidate", Key: vk, Err: err}
	}
	c.log.Debug("service cache invalidated",
		slog.String("business_id", businessID),
		slog.String("service_id", serviceID),
		slog.Int64("version", v),
	)
	return nil
}

// WarmUp computes the default window for the business-wide view and for each
// service. Failures for one service do not stop the others.
func (c *CachedCalculator) WarmUp(ctx context.Context, businessID string, serviceIDs ...string) error {
	targets := append([]string{""}, serviceIDs...)
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(warmUpConcurrency)
	for _, svc := range targets {
		p.Go(func(ctx context.Context) error {
			if _, err := c.Calculate(ctx, businessID, svc, availability.Options{}); err != nil {
				return fmt.Errorf("warm up %q: %w", svc, err)
			}
			return nil
		})
	}
	err := p.Wait()
	c.log.Info("cache warmed",
		slog.String("business_id", businessID),
		slog.Int("targets", len(targets)),
		slog.Bool("ok", err == nil),
	)
	return err
}

// Stats reports hit and miss counts since process start and the number of
// entries under the business's current version.
func (c *CachedCalculator) Stats(ctx context.Context, businessID string) Stats {
	out := Stats{BusinessID: businessID}
	if cs, ok := c.stats.Load(businessID); ok {
		out.Hits = cs.hits.Value()
		out.Misses = cs.misses.Value()
	}
	if total := out.Hits + out.Misses; total > 0 {
		out.HitRate = float64(out.Hits) / float64(total)
	}

	v, err := c.backend.Version(ctx, businessVersionKey(businessID))
	if err != nil {
		c.warn(&Error{Op: "stats", Key: businessVersionKey(businessID), Err: err})
		return out
	}
	out.Version = v
	n, err := c.backend.Count(ctx, entryPrefix(businessID, v))
	if err != nil {
		c.warn(&Error{Op: "stats", Key: entryPrefix(businessID, v), Err: err})
		return out
	}
	out.Entries = n
	return out
}

func (c *CachedCalculator) key(ctx context.Context, businessID, serviceID string, opts availability.Options) (string, error) {
	bv, err := c.backend.Version(ctx, businessVersionKey(businessID))
	if err != nil {
		return "", &Error{Op: "version", Key: businessVersionKey(businessID), Err: err}
	}
	var sv int64
	if serviceID != "" {
		sv, err = c.backend.Version(ctx, serviceVersionKey(businessID, serviceID))
		if err != nil {
			return "", &Error{Op: "version", Key: serviceVersionKey(businessID, serviceID), Err: err}
		}
	}

	// Today is part of the key so a window anchored on "today" rolls over at
	// midnight even when nothing was written.
	startDate := opts.StartDate
	if startDate == "" {
		startDate = c.calc.Today()
	}
	buffer := "-"
	if opts.BufferTime != nil {
		buffer = strconv.Itoa(*opts.BufferTime)
	}
	return fmt.Sprintf("%s%s:s%d:%s:%d:%d:%s:%s:%s",
		entryPrefix(businessID, bv), serviceID, sv,
		startDate, c.calc.ResolveDays(opts.Days), opts.SlotDuration, buffer,
		opts.StartTime, opts.EndTime,
	), nil
}

func (c *CachedCalculator) counters(businessID string) counters {
	cs, _ := c.stats.LoadOrCompute(businessID, func() counters {
		return counters{hits: xsync.NewCounter(), misses: xsync.NewCounter()}
	})
	return cs
}

func (c *CachedCalculator) warn(err error) {
	var cerr *Error
	if errors.As(err, &cerr) {
		c.log.Warn("cache degraded", slog.String("op", cerr.Op), slog.String("key", cerr.Key), slog.Any("err", cerr.Err))
		return
	}
	c.log.Warn("cache degraded", slog.Any("err", err))
}
