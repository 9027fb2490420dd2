// Package runtime implements spec §4.8's actor supervision lifecycle:
// setup -> run <-> reload -> shutdown, with per-actor restart-on-failure
// bounded by an exponential-backoff budget, and OS signal handling
// (SIGHUP reload, SIGTERM/SIGINT shutdown).
//
// Grounded on pkg/concurrency's SafeGo/FanOut for panic-safe goroutine
// supervision and pkg/resilience.ExponentialBackoff reused as the
// restart-backoff primitive.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/thin-edge/tedge-core/pkg/concurrency"
	"github.com/thin-edge/tedge-core/pkg/logger"
	"github.com/thin-edge/tedge-core/pkg/resilience"
)

// Actor is one independently supervised unit of the agent (the MQTT
// router, the MQTT bridge, the flow engine, the file-transfer server, ...).
// Run blocks until ctx is cancelled or the actor fails; a non-nil error
// other than ctx.Err() triggers the restart policy.
type Actor interface {
	Name() string
	Run(ctx context.Context) error
}

// ReloadableActor is implemented by actors that need to react to a SIGHUP
// reload (re-read configuration, re-apply subscriptions) without a full
// restart.
type ReloadableActor interface {
	Actor
	Reload(ctx context.Context) error
}

// Config controls the restart policy (spec §4.8: "exponential backoff
// bounded by max_restarts within a window; exceeding the budget aborts the
// whole agent").
type Config struct {
	MaxRestarts int
	Window      time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Runtime supervises a set of registered actors (spec §4.8 "Each actor
// exposes a name; the runtime logs start/stop and any error return").
type Runtime struct {
	cfg    Config
	actors []Actor

	mu      sync.Mutex
	aborted error // set once any actor exhausts its restart budget
}

// New creates a runtime with the given restart policy.
func New(cfg Config) *Runtime {
	cfg.applyDefaults()
	return &Runtime{cfg: cfg}
}

// Register adds an actor to be supervised. Must be called before Run
// (spec §4.8's "setup" phase).
func (r *Runtime) Register(a Actor) {
	r.actors = append(r.actors, a)
}

// Run starts every registered actor under its own restart-supervised
// goroutine and blocks until ctx is cancelled or an actor's restart budget
// is exhausted, whichever comes first. On budget exhaustion, Run cancels
// every other actor's context too (spec §4.8: "exceeding the budget aborts
// the whole agent") and returns the fatal error.
func (r *Runtime) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(r.actors))
	for _, a := range r.actors {
		a := a
		concurrency.SafeGo(runCtx, func() {
			defer wg.Done()
			r.supervise(runCtx, cancel, a)
		})
	}
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted != nil {
		return r.aborted
	}
	return ctx.Err()
}

// Reload fans Reload out to every ReloadableActor (spec §4.8: SIGHUP
// "re-read configuration, re-apply subscriptions"). Non-reloadable actors
// are skipped; an error from one actor's Reload does not stop the others,
// but the first is returned.
func (r *Runtime) Reload(ctx context.Context) error {
	var first error
	for _, a := range r.actors {
		reloadable, ok := a.(ReloadableActor)
		if !ok {
			continue
		}
		logger.L().InfoContext(ctx, "reloading actor", "actor", a.Name())
		if err := reloadable.Reload(ctx); err != nil {
			logger.L().ErrorContext(ctx, "actor reload failed", "actor", a.Name(), "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// supervise runs a under a restart loop: on failure, retries with
// exponential backoff as long as the failure count within the configured
// window stays at or under MaxRestarts.
func (r *Runtime) supervise(ctx context.Context, abort context.CancelFunc, a Actor) {
	var failures []time.Time

	for {
		logger.L().InfoContext(ctx, "actor starting", "actor", a.Name())
		err := a.Run(ctx)
		if ctx.Err() != nil {
			logger.L().InfoContext(ctx, "actor stopped", "actor", a.Name())
			return
		}
		if err == nil {
			logger.L().InfoContext(ctx, "actor exited cleanly", "actor", a.Name())
			return
		}

		logger.L().ErrorContext(ctx, "actor failed", "actor", a.Name(), "error", err)

		now := time.Now()
		failures = append(failures, now)
		failures = withinWindow(failures, now, r.cfg.Window)

		if len(failures) > r.cfg.MaxRestarts {
			r.mu.Lock()
			if r.aborted == nil {
				r.aborted = err
			}
			r.mu.Unlock()
			logger.L().ErrorContext(ctx, "actor exceeded restart budget, aborting agent",
				"actor", a.Name(), "max_restarts", r.cfg.MaxRestarts, "window", r.cfg.Window)
			abort()
			return
		}

		backoff := resilience.ExponentialBackoff(len(failures), r.cfg.BaseBackoff, r.cfg.MaxBackoff, 0.2)
		logger.L().WarnContext(ctx, "restarting actor after backoff",
			"actor", a.Name(), "attempt", len(failures), "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func withinWindow(failures []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := failures[:0]
	for _, t := range failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
