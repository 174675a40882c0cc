// Package ratelimit implements the per-kind admission gate that spaces and caps
// outbound upstream calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/metrics"
)

// Config holds the admission knobs of one gate.
type Config struct {
	// MinSpacing is the minimum interval between the starts of two consecutive calls.
	MinSpacing time.Duration `mapstructure:"min_spacing"`
	// MaxConcurrent caps the number of calls outstanding at once.
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// Gate admits calls in arrival order once both the spacing and the concurrency
// constraints allow it.
type Gate struct {
	name string
	cfg  Config

	// turnstile serializes admission; semaphore waiters are served FIFO.
	turnstile *semaphore.Weighted
	slots     *semaphore.Weighted
	spacing   *rate.Limiter
	// lastStart is guarded by turnstile.
	lastStart time.Time

	outstanding atomic.Int64
}

// New creates a Gate. A non-positive MaxConcurrent is treated as 1 and a
// non-positive MinSpacing disables spacing.
func New(name string, cfg Config) *Gate {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	limit := rate.Inf
	if cfg.MinSpacing > 0 {
		limit = rate.Every(cfg.MinSpacing)
	}
	return &Gate{
		name:      name,
		cfg:       cfg,
		turnstile: semaphore.NewWeighted(1),
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		spacing:   rate.NewLimiter(limit, 1),
	}
}

// Config returns the effective configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// Outstanding reports the number of permits currently held.
func (g *Gate) Outstanding() int {
	return int(g.outstanding.Load())
}

// Permit is proof of admission. Release it when the guarded call completes.
type Permit struct {
	gate    *Gate
	once    sync.Once
	started time.Time
}

// Started is the admission time.
func (p *Permit) Started() time.Time {
	return p.started
}

// Release frees the concurrency slot. It is safe to call more than once.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.gate.outstanding.Add(-1)
		p.gate.slots.Release(1)
	})
}

// Acquire blocks until the call may start or ctx is done. On error no permit
// is held.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	start := time.Now()
	if err := g.turnstile.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("gate %s: wait for turn: %w", g.name, err)
	}
	defer g.turnstile.Release(1)

	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("gate %s: wait for slot: %w", g.name, err)
	}
	if err := g.waitSpacing(ctx); err != nil {
		g.slots.Release(1)
		return nil, fmt.Errorf("gate %s: wait for spacing: %w", g.name, err)
	}
	g.outstanding.Add(1)

	admitted := time.Now()
	g.lastStart = admitted
	if waited := admitted.Sub(start); waited > time.Millisecond {
		metrics.ObserveGateWait(g.name, waited)
	}
	return &Permit{gate: g, started: admitted}, nil
}

// waitSpacing paces admissions through the limiter, then tops up against the
// previous admission time so the gap holds on the same clock the caller sees.
func (g *Gate) waitSpacing(ctx context.Context) error {
	if g.cfg.MinSpacing <= 0 {
		return nil
	}
	if err := g.spacing.Wait(ctx); err != nil {
		return err
	}
	if g.lastStart.IsZero() {
		return nil
	}
	wait := time.Until(g.lastStart.Add(g.cfg.MinSpacing))
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn under a permit.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	permit, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()
	return fn(ctx)
}

// Wrap returns fn guarded by the gate.
func Wrap[T any](g *Gate, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		permit, err := g.Acquire(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		defer permit.Release()
		return fn(ctx)
	}
}

// Registry holds one gate per work kind.
type Registry struct {
	gates map[catalog.Kind]*Gate
}

// NewRegistry builds a gate for every configured kind.
func NewRegistry(cfgs map[catalog.Kind]Config) *Registry {
	gates := make(map[catalog.Kind]*Gate, len(cfgs))
	for kind, cfg := range cfgs {
		gates[kind] = New(kind.String(), cfg)
	}
	return &Registry{gates: gates}
}

// For returns the gate of a kind.
func (r *Registry) For(kind catalog.Kind) (*Gate, error) {
	g, ok := r.gates[kind]
	if !ok {
		return nil, fmt.Errorf("no rate gate configured for kind %q", kind)
	}
	return g, nil
}
