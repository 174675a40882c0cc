// Package dispatcher fans the pending units of one kind out to a bounded
// group of workers and summarizes the run.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/metrics"
	"github.com/JakeFAU/realtime-menu-ingest/internal/telemetry"
)

// DefaultConcurrency bounds in-flight units when Config.Concurrency is unset.
const DefaultConcurrency = 4

// Processor runs one unit to a terminal outcome.
type Processor interface {
	Process(ctx context.Context, unit catalog.PendingUnit) (catalog.Outcome, error)
}

// Config controls one dispatcher.
type Config struct {
	Kind catalog.Kind
	// Concurrency should not exceed the connection pool size, since every
	// in-flight unit holds a connection.
	Concurrency int
}

// Deps are the collaborators of a Dispatcher. Recorder and Publisher are optional.
type Deps struct {
	Source    catalog.PendingSource
	Processor Processor
	Recorder  catalog.RunRecorder
	Publisher catalog.Publisher
	IDs       catalog.IDGenerator
	Clock     catalog.Clock
	Logger    *zap.Logger
}

// Dispatcher processes every unit pending at the start of a run.
type Dispatcher struct {
	cfg  Config
	deps Deps
}

// New creates a Dispatcher.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Source == nil || deps.Processor == nil {
		return nil, fmt.Errorf("dispatcher %s: source and processor are required", cfg.Kind)
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, fmt.Errorf("dispatcher %s: id generator and clock are required", cfg.Kind)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.With(zap.String("kind", cfg.Kind.String()))
	return &Dispatcher{cfg: cfg, deps: deps}, nil
}

// Run queries the pending set once and drives every unit to an outcome.
// Unit failures are counted, never returned; the only error is a failed
// pending query. Units not started when ctx is canceled are skipped.
func (d *Dispatcher) Run(ctx context.Context) (catalog.RunSummary, error) {
	runID, err := d.deps.IDs.NewID()
	if err != nil {
		return catalog.RunSummary{}, fmt.Errorf("dispatcher %s: %w", d.cfg.Kind, err)
	}
	summary := catalog.RunSummary{
		RunID:     runID,
		Kind:      d.cfg.Kind,
		Status:    catalog.RunRunning,
		StartedAt: d.deps.Clock.Now(),
	}
	logger := d.deps.Logger.With(zap.String("run_id", runID))
	ctx, span := telemetry.StartSpan(ctx, "menuingest.run",
		attribute.String("kind", d.cfg.Kind.String()),
		attribute.String("run_id", runID),
	)
	d.record(ctx, logger, summary, true)

	units, err := d.deps.Source.Pending(ctx, d.cfg.Kind)
	if err != nil {
		err = fmt.Errorf("list pending %s: %w", d.cfg.Kind, err)
		summary.Status = catalog.RunError
		summary.Error = err.Error()
		d.finish(ctx, logger, &summary)
		telemetry.EndSpan(span, err)
		return summary, err
	}
	summary.Pending = len(units)
	logger.Info("run started", zap.Int("pending", len(units)), zap.Int("concurrency", d.cfg.Concurrency))

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)
	for _, unit := range units {
		g.Go(func() error {
			outcome, err := catalog.OutcomeSkipped, ctx.Err()
			if err == nil {
				outcome, err = d.deps.Processor.Process(ctx, unit)
			} else {
				metrics.ObserveUnit(d.cfg.Kind.String(), string(outcome))
			}
			mu.Lock()
			summary.Record(outcome, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.Status = catalog.RunCompleted
	if ctx.Err() != nil {
		summary.Status = catalog.RunCanceled
	}
	d.finish(ctx, logger, &summary)
	span.SetAttributes(
		attribute.String("status", string(summary.Status)),
		attribute.Int("pending", summary.Pending),
		attribute.Int("committed", summary.Committed),
		attribute.Int("failed", summary.Failed),
	)
	span.End()
	return summary, nil
}

func (d *Dispatcher) finish(ctx context.Context, logger *zap.Logger, summary *catalog.RunSummary) {
	summary.FinishedAt = d.deps.Clock.Now()
	d.record(ctx, logger, *summary, false)
	if d.deps.Publisher != nil {
		msgID, err := d.deps.Publisher.Publish(context.WithoutCancel(ctx), *summary)
		if err != nil {
			logger.Warn("publish run summary failed", zap.Error(err))
		} else {
			logger.Debug("run summary published", zap.String("message_id", msgID))
		}
	}
	logger.Info("run finished",
		zap.String("status", string(summary.Status)),
		zap.Int("pending", summary.Pending),
		zap.Int("committed", summary.Committed),
		zap.Int("empty", summary.Empty),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Any("by_reason", summary.ByReason),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
}

func (d *Dispatcher) record(ctx context.Context, logger *zap.Logger, summary catalog.RunSummary, start bool) {
	if d.deps.Recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	if start {
		err = d.deps.Recorder.StartRun(ctx, summary)
	} else {
		err = d.deps.Recorder.FinishRun(ctx, summary)
	}
	if err != nil {
		logger.Warn("record run failed", zap.Bool("start", start), zap.Error(err))
	}
}
