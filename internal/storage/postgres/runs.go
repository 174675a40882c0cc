package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/store"
)

const runsTable = "ingest_runs"

var runColumns = []string{
	"id", "kind", "status", "error_message", "started_at", "finished_at",
	"pending", "committed", "empty", "failed", "skipped", "by_reason",
}

// StartRun inserts a running ingest_runs row.
func (s *Store) StartRun(ctx context.Context, summary catalog.RunSummary) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(runsTable)
	ib.Cols("id", "kind", "status", "started_at", "pending")
	ib.Values(summary.RunID, summary.Kind.String(), string(catalog.RunRunning), summary.StartedAt, summary.Pending)

	query, args := ib.Build()
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run %s: %w", summary.RunID, err)
	}
	return nil
}

// FinishRun stores the final counters and status of a run.
func (s *Store) FinishRun(ctx context.Context, summary catalog.RunSummary) error {
	reasons, err := json.Marshal(summary.ByReason)
	if err != nil {
		return fmt.Errorf("marshal run reasons: %w", err)
	}
	var errMsg *string
	if summary.Error != "" {
		errMsg = &summary.Error
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(runsTable)
	ub.Set(
		ub.Assign("status", string(summary.Status)),
		ub.Assign("error_message", errMsg),
		ub.Assign("finished_at", summary.FinishedAt),
		ub.Assign("pending", summary.Pending),
		ub.Assign("committed", summary.Committed),
		ub.Assign("empty", summary.Empty),
		ub.Assign("failed", summary.Failed),
		ub.Assign("skipped", summary.Skipped),
		ub.Assign("by_reason", reasons),
	)
	ub.Where(ub.Equal("id", summary.RunID))

	query, args := ub.Build()
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", summary.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun loads a single run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (catalog.RunSummary, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From(runsTable)
	sb.Where(sb.Equal("id", runID))

	query, args := sb.Build()
	run, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.RunSummary{}, store.ErrNotFound
		}
		return catalog.RunSummary{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter) ([]catalog.RunSummary, error) {
	filter = filter.Normalize()
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From(runsTable)
	if filter.Kind != nil {
		sb.Where(sb.Equal("kind", filter.Kind.String()))
	}
	if filter.Status != nil {
		sb.Where(sb.Equal("status", string(*filter.Status)))
	}
	sb.OrderBy("started_at DESC")
	sb.Limit(filter.Limit)
	sb.Offset(filter.Offset)

	query, args := sb.Build()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []catalog.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (catalog.RunSummary, error) {
	var (
		run        catalog.RunSummary
		kind       string
		status     string
		errMsg     *string
		finishedAt *time.Time
		reasons    []byte
	)
	err := row.Scan(
		&run.RunID,
		&kind,
		&status,
		&errMsg,
		&run.StartedAt,
		&finishedAt,
		&run.Pending,
		&run.Committed,
		&run.Empty,
		&run.Failed,
		&run.Skipped,
		&reasons,
	)
	if err != nil {
		return catalog.RunSummary{}, err
	}
	run.Kind = catalog.Kind(kind)
	run.Status = catalog.RunStatus(status)
	if errMsg != nil {
		run.Error = *errMsg
	}
	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &run.ByReason); err != nil {
			return catalog.RunSummary{}, fmt.Errorf("decode run reasons: %w", err)
		}
	}
	return run, nil
}
