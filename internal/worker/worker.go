// Package worker runs the per-unit pipeline: gated fetch, normalize, commit.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/metrics"
	"github.com/JakeFAU/realtime-menu-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-menu-ingest/internal/telemetry"
)

// Worker processes units of one kind whose raw document type is D.
type Worker[D any] struct {
	kind      catalog.Kind
	pool      catalog.SessionPool
	gate      *ratelimit.Gate
	fetcher   catalog.Fetcher[D]
	normalize catalog.NormalizeFunc[D]
	clock     catalog.Clock
	logger    *zap.Logger
}

// Deps wires a Worker.
type Deps[D any] struct {
	Kind      catalog.Kind
	Pool      catalog.SessionPool
	Gate      *ratelimit.Gate
	Fetcher   catalog.Fetcher[D]
	Normalize catalog.NormalizeFunc[D]
	Clock     catalog.Clock
	Logger    *zap.Logger
}

// New constructs a Worker.
func New[D any](deps Deps[D]) (*Worker[D], error) {
	switch {
	case deps.Pool == nil:
		return nil, fmt.Errorf("worker %s: session pool is required", deps.Kind)
	case deps.Gate == nil:
		return nil, fmt.Errorf("worker %s: rate gate is required", deps.Kind)
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("worker %s: fetcher is required", deps.Kind)
	case deps.Normalize == nil:
		return nil, fmt.Errorf("worker %s: normalizer is required", deps.Kind)
	case deps.Clock == nil:
		return nil, fmt.Errorf("worker %s: clock is required", deps.Kind)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker[D]{
		kind:      deps.Kind,
		pool:      deps.Pool,
		gate:      deps.Gate,
		fetcher:   deps.Fetcher,
		normalize: deps.Normalize,
		clock:     deps.Clock,
		logger:    logger.With(zap.String("kind", deps.Kind.String())),
	}, nil
}

// Kind reports the kind this worker processes.
func (w *Worker[D]) Kind() catalog.Kind {
	return w.kind
}

// Process runs one unit to a terminal outcome. The session is held for the
// whole unit and released exactly once. Once a document has been fetched the
// commit runs to completion even if ctx is canceled.
func (w *Worker[D]) Process(ctx context.Context, unit catalog.PendingUnit) (outcome catalog.Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "menuingest.unit",
		attribute.String("kind", w.kind.String()),
		attribute.String("unit_id", unit.ID),
	)
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		if outcome == catalog.OutcomeFailed {
			telemetry.EndSpan(span, err)
			return
		}
		span.End()
	}()

	metrics.IncInflight(w.kind.String())
	defer metrics.DecInflight(w.kind.String())
	logger := w.logger.With(zap.String("unit_id", unit.ID))

	sess, err := w.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return w.settle(logger, catalog.OutcomeSkipped, ctx.Err())
		}
		return w.settle(logger, catalog.OutcomeFailed, err)
	}
	defer sess.Release()

	admitted := false
	fetch := ratelimit.Wrap(w.gate, func(ctx context.Context) (D, error) {
		admitted = true
		return w.fetcher.Fetch(ctx, unit)
	})
	doc, err := fetch(ctx)
	switch {
	case err == nil:
	case errors.Is(err, catalog.ErrEmptyResult):
		return w.settle(logger, catalog.OutcomeEmpty, err)
	case !admitted && ctx.Err() != nil:
		// Canceled while waiting at the gate: the unit never started.
		return w.settle(logger, catalog.OutcomeSkipped, err)
	default:
		return w.settle(logger, catalog.OutcomeFailed, err)
	}

	batch, err := w.normalize(unit, doc)
	if err != nil {
		return w.settle(logger, catalog.OutcomeFailed, err)
	}

	if err := sess.Commit(context.WithoutCancel(ctx), batch, w.clock.Now()); err != nil {
		return w.settle(logger, catalog.OutcomeFailed, err)
	}
	logger.Debug("unit committed", zap.Int("rows", batch.RowCount()))
	return w.settle(logger, catalog.OutcomeCommitted, nil)
}

func (w *Worker[D]) settle(logger *zap.Logger, outcome catalog.Outcome, err error) (catalog.Outcome, error) {
	metrics.ObserveUnit(w.kind.String(), string(outcome))
	switch outcome {
	case catalog.OutcomeFailed:
		logger.Warn("unit failed", zap.String("reason", catalog.Reason(err)), zap.Error(err))
	case catalog.OutcomeEmpty:
		logger.Info("empty result", zap.Error(err))
	case catalog.OutcomeSkipped:
		logger.Debug("unit skipped", zap.Error(err))
	}
	return outcome, err
}
