package store

import (
	"context"
	"errors"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunRepository persists dispatcher runs and serves them back to the API.
type RunRepository interface {
	catalog.RunRecorder

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (catalog.RunSummary, error)
	// ListRuns returns runs newest first, filtered by optional kind and status.
	ListRuns(ctx context.Context, filter RunFilter) ([]catalog.RunSummary, error)
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Kind   *catalog.Kind
	Status *catalog.RunStatus
	Limit  int
	Offset int
}

// Paging bounds of ListRuns.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize clamps the paging fields.
func (f RunFilter) Normalize() RunFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
