// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
)

const (
	// DefaultInsertChunkRows caps the rows of one multi-row INSERT.
	DefaultInsertChunkRows = 1000
	// maxBindParams is the Postgres wire limit on parameters per statement.
	maxBindParams = 65535
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	InsertChunkRows int
}

// Pool is the subset of *pgxpool.Pool the store issues statements on.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxPool is a Pool that can also begin transactions directly.
type TxPool interface {
	Pool
	txBeginner
}

type (
	acquireFunc func(ctx context.Context) (txBeginner, func(), error)
	copyFunc    func(ctx context.Context, w io.Writer, sql string) (int64, error)
)

// Store reads pending work and hands out transactional sessions.
type Store struct {
	pool      Pool
	acquire   acquireFunc
	copyTo    copyFunc
	chunkRows int
	logger    *zap.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore connects a pgx pool using the provided config.
func NewStore(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := newStore(pool, cfg, opts)
	s.acquire = func(ctx context.Context) (txBeginner, func(), error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.Release, nil
	}
	s.copyTo = func(ctx context.Context, w io.Writer, sql string) (int64, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		defer conn.Release()
		tag, err := conn.Conn().PgConn().CopyTo(ctx, w, sql)
		return tag.RowsAffected(), err
	}
	return s, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
// Sessions begin transactions on the pool itself.
func NewStoreWithPool(pool TxPool, cfg Config, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	s := newStore(pool, cfg, opts)
	s.acquire = func(context.Context) (txBeginner, func(), error) {
		return pool, func() {}, nil
	}
	s.copyTo = func(context.Context, io.Writer, string) (int64, error) {
		return 0, fmt.Errorf("copy is not supported by this pool")
	}
	return s, nil
}

func newStore(pool Pool, cfg Config, opts []Option) *Store {
	chunk := cfg.InsertChunkRows
	if chunk <= 0 {
		chunk = DefaultInsertChunkRows
	}
	s := &Store{pool: pool, chunkRows: chunk, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pending lists the units of a kind whose marker is unset. Locations without
// coordinates cannot be fetched and are not listed.
func (s *Store) Pending(ctx context.Context, kind catalog.Kind) ([]catalog.PendingUnit, error) {
	query, args, err := pendingQuery(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending %s: %w", kind, err)
	}
	defer rows.Close()

	var units []catalog.PendingUnit
	for rows.Next() {
		unit := catalog.PendingUnit{Kind: kind}
		if kind == catalog.KindLocation {
			var lat, lon float64
			if err := rows.Scan(&unit.ID, &lat, &lon); err != nil {
				return nil, fmt.Errorf("scan pending %s: %w", kind, err)
			}
			unit.Coordinates = &catalog.Coordinates{Latitude: lat, Longitude: lon}
		} else if err := rows.Scan(&unit.ID); err != nil {
			return nil, fmt.Errorf("scan pending %s: %w", kind, err)
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending %s: %w", kind, err)
	}
	return units, nil
}

func pendingQuery(kind catalog.Kind) (string, []any, error) {
	marker, err := catalog.MarkerFor(kind)
	if err != nil {
		return "", nil, err
	}
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	if kind == catalog.KindLocation {
		sb.Select(marker.Key, "latitude", "longitude")
		sb.From(marker.Table)
		sb.Where(
			sb.IsNull(marker.Column),
			sb.IsNotNull("latitude"),
			sb.IsNotNull("longitude"),
		)
	} else {
		sb.Select(marker.Key)
		sb.From(marker.Table)
		sb.Where(sb.IsNull(marker.Column))
	}
	sb.OrderBy(marker.Key)
	query, args := sb.Build()
	return query, args, nil
}

// Acquire takes one connection for the exclusive use of a unit.
func (s *Store) Acquire(ctx context.Context) (catalog.Session, error) {
	conn, release, err := s.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w: %w", catalog.ErrPersistence, err)
	}
	return newSession(conn, release, s.chunkRows, s.logger), nil
}
