package catalog

import (
	"context"
	"io"
	"time"
)

// Fetcher performs one remote call for a unit and returns its raw document.
type Fetcher[D any] interface {
	Fetch(ctx context.Context, unit PendingUnit) (D, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc[D any] func(ctx context.Context, unit PendingUnit) (D, error)

// Fetch calls f.
func (f FetchFunc[D]) Fetch(ctx context.Context, unit PendingUnit) (D, error) {
	return f(ctx, unit)
}

// NormalizeFunc flattens a raw document into a batch. It must not perform I/O.
type NormalizeFunc[D any] func(unit PendingUnit, doc D) (NormalizedBatch, error)

// PendingSource lists the units whose completion marker is unset.
type PendingSource interface {
	Pending(ctx context.Context, kind Kind) ([]PendingUnit, error)
}

// Session is one exclusively held store connection.
type Session interface {
	// Commit applies the batch and stamps the unit's marker with at, atomically.
	Commit(ctx context.Context, batch NormalizedBatch, at time.Time) error
	// Release returns the connection to the pool. Calls after the first are no-ops.
	Release()
}

// SessionPool hands out sessions.
type SessionPool interface {
	Acquire(ctx context.Context) (Session, error)
}

// Store is the persisted state the dispatcher reads from and writes to.
type Store interface {
	PendingSource
	SessionPool
}

// RunRecorder persists run bookkeeping.
type RunRecorder interface {
	StartRun(ctx context.Context, summary RunSummary) error
	FinishRun(ctx context.Context, summary RunSummary) error
}

// Publisher pushes run events to a topic.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// BlobStore writes exported artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
