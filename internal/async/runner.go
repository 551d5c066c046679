// Package async runs best-effort side effects off the request path.
package async

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc"
)

const DefaultTimeout = 5 * time.Second

type Runner struct {
	wg      conc.WaitGroup
	log     *slog.Logger
	timeout time.Duration

	// tails holds, per ordering key, the done channel of the last queued task.
	tails *xsync.MapOf[string, chan struct{}]
}

func NewRunner(log *slog.Logger, timeout time.Duration) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		log:     log.With(slog.String("component", "async")),
		timeout: timeout,
		tails:   xsync.NewMapOf[string, chan struct{}](),
	}
}

// Go runs fn detached from ctx's cancellation but keeps its values. Errors and
// panics are logged and never reach the caller. A nil Runner runs fn inline.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if r == nil {
		runInline(ctx, name, fn)
		return
	}
	detached := context.WithoutCancel(ctx)
	r.wg.Go(func() {
		r.run(detached, name, fn)
	})
}

// Ordered is Go with a guarantee: tasks sharing a key run one at a time, in
// the order Ordered was called. Tasks with different keys run concurrently.
func (r *Runner) Ordered(ctx context.Context, key, name string, fn func(ctx context.Context) error) {
	if r == nil {
		runInline(ctx, name, fn)
		return
	}
	done := make(chan struct{})
	var prev chan struct{}
	r.tails.Compute(key, func(old chan struct{}, loaded bool) (chan struct{}, bool) {
		if loaded {
			prev = old
		}
		return done, false
	})

	detached := context.WithoutCancel(ctx)
	r.wg.Go(func() {
		defer func() {
			close(done)
			r.tails.Compute(key, func(old chan struct{}, loaded bool) (chan struct{}, bool) {
				return old, !loaded || old == done
			})
		}()
		if prev != nil {
			<-prev
		}
		r.run(detached, name, fn)
	})
}

func (r *Runner) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.log.Warn("side effect failed", slog.String("task", name), slog.Any("err", err))
	}
}

// Wait blocks until every started task returns.
func (r *Runner) Wait() {
	if r == nil {
		return
	}
	if p := r.wg.WaitAndRecover(); p != nil {
		r.log.Error("side effect panicked", slog.String("panic", p.String()))
	}
}

func runInline(ctx context.Context, name string, fn func(ctx context.Context) error) {
	log := slog.Default().With(slog.String("component", "async"))
	defer func() {
		if p := recover(); p != nil {
			log.Error("side effect panicked", slog.String("task", name), slog.String("panic", fmt.Sprint(p)))
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn("side effect failed", slog.String("task", name), slog.Any("err", err))
	}
}
