// Package app initializes and holds the long-lived services of the ingest
// pipeline, acting as a dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-menu-ingest/internal/api"
	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/clock/system"
	"github.com/JakeFAU/realtime-menu-ingest/internal/config"
	"github.com/JakeFAU/realtime-menu-ingest/internal/dispatcher"
	"github.com/JakeFAU/realtime-menu-ingest/internal/exporter"
	collyfetcher "github.com/JakeFAU/realtime-menu-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-menu-ingest/internal/id/uuid"
	"github.com/JakeFAU/realtime-menu-ingest/internal/normalize"
	"github.com/JakeFAU/realtime-menu-ingest/internal/policy/ratelimit"
	kafkapublisher "github.com/JakeFAU/realtime-menu-ingest/internal/publisher/kafka"
	gcppublisher "github.com/JakeFAU/realtime-menu-ingest/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/realtime-menu-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-menu-ingest/internal/storage/local"
	pgstore "github.com/JakeFAU/realtime-menu-ingest/internal/storage/postgres"
	"github.com/JakeFAU/realtime-menu-ingest/internal/store"
	"github.com/JakeFAU/realtime-menu-ingest/internal/telemetry"
	"github.com/JakeFAU/realtime-menu-ingest/internal/upstream"
	"github.com/JakeFAU/realtime-menu-ingest/internal/worker"
)

const (
	serviceName     = "menuingest"
	shutdownTimeout = 10 * time.Second
)

// Version is stamped into traces. Release builds set it with -ldflags.
var Version = "dev"

// Backend is the persistence the pipeline reads from and writes to.
type Backend interface {
	catalog.Store
	store.RunRepository
	exporter.TableCopier
	Ping(ctx context.Context) error
}

// Deps are the external services an App is built on. Publisher is optional.
type Deps struct {
	Backend   Backend
	Doer      upstream.Doer
	Publisher catalog.Publisher
	Clock     catalog.Clock
}

// App holds the dispatchers of every kind and the services they share.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	backend     Backend
	clock       catalog.Clock
	dispatchers map[catalog.Kind]*dispatcher.Dispatcher
	closers     []func() error
}

// New connects to Postgres and, when configured, Pub/Sub, then wires the
// pipeline over a colly fetcher.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.RequireDSN(); err != nil {
		return nil, err
	}
	pg, err := pgstore.NewStore(ctx, pgstore.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
		InsertChunkRows: cfg.DB.InsertChunkRows,
	}, pgstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	closers := []func() error{func() error { pg.Close(); return nil }}

	var publisher catalog.Publisher
	switch {
	case cfg.PubSub.Enabled():
		pub, err := gcppublisher.Dial(ctx, gcppublisher.Config{ProjectID: cfg.PubSub.ProjectID, Topic: cfg.PubSub.Topic})
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		logger.Info("publishing run summaries to pubsub", zap.String("topic", cfg.PubSub.Topic))
		publisher = pub
		closers = append(closers, pub.Close)
	case cfg.Kafka.Enabled():
		pub, err := kafkapublisher.New(kafkapublisher.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		logger.Info("publishing run summaries to kafka", zap.String("topic", cfg.Kafka.Topic), zap.Strings("brokers", cfg.Kafka.Brokers))
		publisher = pub
		closers = append(closers, pub.Close)
	}

	tp, err := telemetry.InitTracerProvider(ctx, serviceName, Version, cfg.Tracing)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	closers = append(closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	})

	doer, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTP.Timeout,
		Proxies:   cfg.HTTP.Proxies,
	})
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	if len(cfg.HTTP.Proxies) > 0 {
		logger.Info("rotating upstream requests across proxies", zap.Int("proxies", len(cfg.HTTP.Proxies)))
	}
	a, err := Build(cfg, logger, Deps{Backend: pg, Doer: doer, Publisher: publisher, Clock: system.New()})
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	a.closers = closers
	return a, nil
}

// Build wires one dispatcher per kind over the given services.
func Build(cfg config.Config, logger *zap.Logger, deps Deps) (*App, error) {
	if deps.Backend == nil || deps.Doer == nil {
		return nil, errors.New("app requires a backend and an upstream doer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	ids := uuid.NewUUIDGenerator()
	client, err := upstream.New(deps.Doer, upstream.Config{
		MenuURL:          cfg.Upstream.MenuURL,
		LocationURL:      cfg.Upstream.LocationURL,
		TagsURL:          cfg.Upstream.TagsURL,
		GeohashPrecision: cfg.Upstream.GeohashPrecision,
		SuperProperties:  cfg.SuperProperties(),
	}, upstream.WithDeviceIDs(ids.NewDeviceID))
	if err != nil {
		return nil, fmt.Errorf("init upstream client: %w", err)
	}
	gates := ratelimit.NewRegistry(cfg.Gates.ByKind())

	a := &App{
		cfg:         cfg,
		logger:      logger,
		backend:     deps.Backend,
		clock:       deps.Clock,
		dispatchers: make(map[catalog.Kind]*dispatcher.Dispatcher, 3),
	}
	shared := pipeline{
		backend:     deps.Backend,
		publisher:   deps.Publisher,
		gates:       gates,
		ids:         ids,
		clock:       deps.Clock,
		logger:      logger,
		concurrency: cfg.Dispatch.Concurrency,
	}
	builders := map[catalog.Kind]func() (*dispatcher.Dispatcher, error){
		catalog.KindLocation: func() (*dispatcher.Dispatcher, error) {
			return buildDispatcher[upstream.LocationFeed](shared, catalog.KindLocation, client.Location, normalize.Location)
		},
		catalog.KindRestaurant: func() (*dispatcher.Dispatcher, error) {
			return buildDispatcher[upstream.MenuPage](shared, catalog.KindRestaurant, client.Menu, normalize.Restaurant)
		},
		catalog.KindTag: func() (*dispatcher.Dispatcher, error) {
			return buildDispatcher[upstream.TagDocument](shared, catalog.KindTag, client.Tags, normalize.Tags)
		},
	}
	for kind, build := range builders {
		d, err := build()
		if err != nil {
			return nil, err
		}
		a.dispatchers[kind] = d
	}
	return a, nil
}

type pipeline struct {
	backend     Backend
	publisher   catalog.Publisher
	gates       *ratelimit.Registry
	ids         catalog.IDGenerator
	clock       catalog.Clock
	logger      *zap.Logger
	concurrency int
}

func buildDispatcher[D any](
	p pipeline,
	kind catalog.Kind,
	fetch catalog.FetchFunc[D],
	norm catalog.NormalizeFunc[D],
) (*dispatcher.Dispatcher, error) {
	gate, err := p.gates.For(kind)
	if err != nil {
		return nil, err
	}
	w, err := worker.New(worker.Deps[D]{
		Kind:      kind,
		Pool:      p.backend,
		Gate:      gate,
		Fetcher:   fetch,
		Normalize: norm,
		Clock:     p.clock,
		Logger:    p.logger,
	})
	if err != nil {
		return nil, err
	}
	return dispatcher.New(dispatcher.Config{Kind: kind, Concurrency: p.concurrency}, dispatcher.Deps{
		Source:    p.backend,
		Processor: w,
		Recorder:  p.backend,
		Publisher: p.publisher,
		IDs:       p.ids,
		Clock:     p.clock,
		Logger:    p.logger,
	})
}

// Run processes the given kinds in order, defaulting to catalog.Kinds(). It
// stops before the next kind once ctx is canceled or a pending query fails.
func (a *App) Run(ctx context.Context, kinds []catalog.Kind) ([]catalog.RunSummary, error) {
	if len(kinds) == 0 {
		kinds = catalog.Kinds()
	}
	summaries := make([]catalog.RunSummary, 0, len(kinds))
	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		d, ok := a.dispatchers[kind]
		if !ok {
			return summaries, fmt.Errorf("no dispatcher for kind %q", kind)
		}
		summary, err := d.Run(ctx)
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}

// Export writes every catalog table to the configured blob store.
func (a *App) Export(ctx context.Context) ([]exporter.Artifact, error) {
	blobs, closeBlobs, err := openBlobStore(ctx, a.cfg.Export)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := closeBlobs(); cerr != nil {
			a.logger.Warn("close blob store failed", zap.Error(cerr))
		}
	}()
	e, err := exporter.New(a.backend, blobs, a.clock, exporter.WithPrefix(a.cfg.Export.Prefix), exporter.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return e.Export(ctx, pgstore.ExportTables)
}

func openBlobStore(ctx context.Context, cfg config.ExportConfig) (catalog.BlobStore, func() error, error) {
	if cfg.GCSBucket != "" {
		bs, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs export: %w", err)
		}
		return bs, bs.Close, nil
	}
	bs, err := localstorage.New(localstorage.Config{Dir: cfg.Dir})
	if err != nil {
		return nil, nil, fmt.Errorf("init local export: %w", err)
	}
	return bs, func() error { return nil }, nil
}

// Handler returns the operator HTTP routes.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.backend, a.backend, a.logger).Handler()
}

// Serve runs the operator HTTP server on addr until ctx is done.
func (a *App) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Close releases every service the App opened.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
