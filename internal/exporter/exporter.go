// Package exporter streams catalog tables as CSV into a blob store.
package exporter

import (
	"context"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
)

// ContentType is the media type of every exported object.
const ContentType = "text/csv"

// TableCopier writes one table as CSV with a header row.
type TableCopier interface {
	CopyTable(ctx context.Context, table string, w io.Writer) (int64, error)
}

// Artifact describes one exported table.
type Artifact struct {
	Table string `json:"table"`
	URI   string `json:"uri"`
	Rows  int64  `json:"rows"`
}

// Exporter copies tables into a blob store under a timestamped prefix.
type Exporter struct {
	source TableCopier
	blobs  catalog.BlobStore
	clock  catalog.Clock
	prefix string
	logger *zap.Logger
}

// Option customizes an Exporter.
type Option func(*Exporter)

// WithPrefix places every export below prefix.
func WithPrefix(prefix string) Option {
	return func(e *Exporter) { e.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Exporter.
func New(source TableCopier, blobs catalog.BlobStore, clock catalog.Clock, opts ...Option) (*Exporter, error) {
	if source == nil || blobs == nil || clock == nil {
		return nil, fmt.Errorf("exporter requires a table source, blob store and clock")
	}
	e := &Exporter{source: source, blobs: blobs, clock: clock, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Export writes each table to <prefix>/<timestamp>/<table>.csv. It stops at
// the first failing table and returns the artifacts written so far.
func (e *Exporter) Export(ctx context.Context, tables []string) ([]Artifact, error) {
	stamp := e.clock.Now().UTC().Format("20060102T150405Z")
	artifacts := make([]Artifact, 0, len(tables))
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return artifacts, err
		}
		object := path.Join(e.prefix, stamp, table+".csv")
		artifact, err := e.exportTable(ctx, table, object)
		if err != nil {
			return artifacts, err
		}
		e.logger.Info("table exported",
			zap.String("table", table),
			zap.String("uri", artifact.URI),
			zap.Int64("rows", artifact.Rows),
		)
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (e *Exporter) exportTable(ctx context.Context, table, object string) (Artifact, error) {
	pr, pw := io.Pipe()
	type copied struct {
		rows int64
		err  error
	}
	done := make(chan copied, 1)
	go func() {
		rows, err := e.source.CopyTable(ctx, table, pw)
		_ = pw.CloseWithError(err)
		done <- copied{rows: rows, err: err}
	}()

	uri, putErr := e.blobs.PutObject(ctx, object, ContentType, pr)
	// Unblocks the copier if the store stopped reading early.
	_ = pr.CloseWithError(io.ErrClosedPipe)
	res := <-done

	switch {
	case res.err != nil:
		return Artifact{}, fmt.Errorf("export %s: %w", table, res.err)
	case putErr != nil:
		return Artifact{}, fmt.Errorf("export %s: store object: %w", table, putErr)
	}
	return Artifact{Table: table, URI: uri, Rows: res.rows}, nil
}
