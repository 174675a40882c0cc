package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/metrics"
)

type session struct {
	conn      txBeginner
	release   func()
	once      sync.Once
	chunkRows int
	logger    *zap.Logger
}

func newSession(conn txBeginner, release func(), chunkRows int, logger *zap.Logger) *session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunkRows <= 0 {
		chunkRows = DefaultInsertChunkRows
	}
	return &session{conn: conn, release: release, chunkRows: chunkRows, logger: logger}
}

// Release returns the connection to the pool once.
func (s *session) Release() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Commit writes the batch and stamps the unit's marker in one transaction.
// Any failure rolls everything back and wraps catalog.ErrPersistence.
func (s *session) Commit(ctx context.Context, batch catalog.NormalizedBatch, at time.Time) error {
	marker, err := catalog.MarkerFor(batch.Unit.Kind)
	if err != nil {
		return s.fail(batch, "resolve marker", err)
	}
	if err := batch.Validate(); err != nil {
		return s.fail(batch, "validate", err)
	}

	start := time.Now()
	defer func() { metrics.ObserveCommit(batch.Unit.Kind.String(), time.Since(start)) }()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return s.fail(batch, "begin", err)
	}
	closed := false
	defer func() {
		if closed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed",
				zap.String("kind", batch.Unit.Kind.String()),
				zap.String("unit_id", batch.Unit.ID),
				zap.Error(rbErr),
			)
		}
	}()

	if batch.Primary != nil {
		if err := s.updatePrimary(ctx, tx, batch); err != nil {
			return s.fail(batch, "update "+batch.Primary.Table, err)
		}
	}
	for _, group := range batch.Groups {
		if err := s.insertGroup(ctx, tx, group); err != nil {
			return s.fail(batch, "insert "+group.Table, err)
		}
	}
	if err := setMarker(ctx, tx, marker, batch.Unit.ID, at); err != nil {
		return s.fail(batch, "set marker", err)
	}

	// pgx closes the transaction whether or not COMMIT succeeds.
	closed = true
	if err := tx.Commit(ctx); err != nil {
		return s.fail(batch, "commit", err)
	}
	for _, group := range batch.Groups {
		metrics.ObserveRows(group.Table, len(group.Rows))
	}
	return nil
}

func (s *session) updatePrimary(ctx context.Context, tx pgx.Tx, batch catalog.NormalizedBatch) error {
	p := batch.Primary
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(p.Table)
	assignments := make([]string, len(p.Columns))
	for i, col := range p.Columns {
		assignments[i] = ub.Assign(col, p.Values[i])
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal(p.Key, p.ID))

	query, args := ub.Build()
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("primary row missing",
			zap.String("kind", batch.Unit.Kind.String()),
			zap.String("unit_id", batch.Unit.ID),
			zap.String("table", p.Table),
		)
	}
	return nil
}

func (s *session) insertGroup(ctx context.Context, tx pgx.Tx, group catalog.RowGroup) error {
	perChunk := s.chunkRows
	if limit := maxBindParams / group.Arity(); limit < perChunk {
		perChunk = limit
	}
	for _, chunk := range group.Chunks(perChunk) {
		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto(group.Table)
		ib.Cols(group.Columns...)
		for _, row := range chunk {
			ib.Values(row...)
		}
		query, args := ib.Build()
		query += " ON CONFLICT DO NOTHING"
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// setMarker stamps the marker only when it is still NULL, so recommitting a
// unit keeps its first completion time. A missing row is an error.
func setMarker(ctx context.Context, tx pgx.Tx, marker catalog.Marker, id string, at time.Time) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(marker.Table)
	ub.Set(fmt.Sprintf("%s = COALESCE(%s, %s)", marker.Column, marker.Column, ub.Var(at)))
	ub.Where(ub.Equal(marker.Key, id))

	query, args := ub.Build()
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s row %s not found", marker.Table, id)
	}
	return nil
}

func (s *session) fail(batch catalog.NormalizedBatch, step string, err error) error {
	s.logger.Error("persistence failure",
		zap.String("kind", batch.Unit.Kind.String()),
		zap.String("unit_id", batch.Unit.ID),
		zap.String("step", step),
		zap.Error(err),
		zap.Object("batch", batch),
	)
	return fmt.Errorf("%s %s %s: %w: %w", step, batch.Unit.Kind, batch.Unit.ID, catalog.ErrPersistence, err)
}
