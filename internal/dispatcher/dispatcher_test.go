package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/normalize"
	"github.com/JakeFAU/realtime-menu-ingest/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/realtime-menu-ingest/internal/publisher/memory"
	"github.com/JakeFAU/realtime-menu-ingest/internal/storage/memory"
	"github.com/JakeFAU/realtime-menu-ingest/internal/upstream"
	"github.com/JakeFAU/realtime-menu-ingest/internal/worker"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type seqIDs struct{ n atomic.Int32 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("run-%d", s.n.Add(1)), nil
}

type processorFunc func(ctx context.Context, unit catalog.PendingUnit) (catalog.Outcome, error)

func (f processorFunc) Process(ctx context.Context, unit catalog.PendingUnit) (catalog.Outcome, error) {
	return f(ctx, unit)
}

var clock = fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

func newDispatcher(t *testing.T, st *memory.CatalogStore, kind catalog.Kind, concurrency int, p Processor) *Dispatcher {
	t.Helper()
	d, err := New(Config{Kind: kind, Concurrency: concurrency}, Deps{
		Source:    st,
		Processor: p,
		Recorder:  st,
		IDs:       &seqIDs{},
		Clock:     clock,
	})
	require.NoError(t, err)
	return d
}

func restaurantWorker(t *testing.T, st *memory.CatalogStore, fetch catalog.FetchFunc[upstream.MenuPage]) *worker.Worker[upstream.MenuPage] {
	t.Helper()
	w, err := worker.New(worker.Deps[upstream.MenuPage]{
		Kind:      catalog.KindRestaurant,
		Pool:      st,
		Gate:      ratelimit.New("restaurant", ratelimit.Config{MaxConcurrent: 3}),
		Fetcher:   fetch,
		Normalize: normalize.Restaurant,
		Clock:     clock,
	})
	require.NoError(t, err)
	return w
}

func TestRunCommitsRestaurantEndToEnd(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore(memory.Hooks{})
	st.SeedRestaurant("r1")

	var fetches atomic.Int32
	w := restaurantWorker(t, st, func(_ context.Context, u catalog.PendingUnit) (upstream.MenuPage, error) {
		fetches.Add(1)
		return upstream.MenuPage{
			Restaurant: &upstream.Restaurant{ID: upstream.Text(u.ID)},
			Items:      []upstream.Item{{ID: "i1"}, {ID: "i2"}},
			Categories: []upstream.Category{{ID: "c1", ItemIDs: []upstream.Text{"i1", "i2"}}},
		}, nil
	})
	d := newDispatcher(t, st, catalog.KindRestaurant, 2, w)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Pending)
	require.Equal(t, 1, summary.Committed)
	require.Equal(t, catalog.RunCompleted, summary.Status)

	require.Len(t, st.Rows(normalize.TableItems), 2)
	require.Len(t, st.Rows(normalize.TableCategories), 1)
	require.Len(t, st.Rows(normalize.TableItemsToCategories), 2)
	at, ok := st.Marker(catalog.KindRestaurant, "r1")
	require.True(t, ok)
	require.Equal(t, clock.now, at)

	again, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, again.Pending)
	require.Equal(t, int32(1), fetches.Load())
	require.Len(t, st.Rows(normalize.TableItems), 2)

	recorded, err := st.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Equal(t, catalog.RunCompleted, recorded.Status)
	require.Equal(t, 1, recorded.Committed)
}

func TestRunIsolatesFailures(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore(memory.Hooks{})
	for i := 1; i <= 5; i++ {
		st.SeedRestaurant(fmt.Sprintf("r%d", i))
	}
	w := restaurantWorker(t, st, func(_ context.Context, u catalog.PendingUnit) (upstream.MenuPage, error) {
		switch u.ID {
		case "r3":
			return upstream.MenuPage{}, fmt.Errorf("fetch: %w", catalog.ErrUnreachable)
		case "r4":
			return upstream.MenuPage{}, catalog.ErrEmptyResult
		}
		return upstream.MenuPage{Restaurant: &upstream.Restaurant{ID: upstream.Text(u.ID)}}, nil
	})
	d := newDispatcher(t, st, catalog.KindRestaurant, 3, w)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, summary.Pending)
	require.Equal(t, 3, summary.Committed)
	require.Equal(t, 1, summary.Empty)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, map[string]int{"unreachable": 1}, summary.ByReason)
	require.Equal(t, summary.Pending, summary.Settled())

	pending, err := st.Pending(context.Background(), catalog.KindRestaurant)
	require.NoError(t, err)
	require.Equal(t, []catalog.PendingUnit{
		{ID: "r3", Kind: catalog.KindRestaurant},
		{ID: "r4", Kind: catalog.KindRestaurant},
	}, pending)

	acquired, released := st.Sessions()
	require.Equal(t, 5, acquired)
	require.Equal(t, 5, released)
}

func TestRunSkipsUnitsAfterCancellation(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore(memory.Hooks{})
	for i := 1; i <= 5; i++ {
		st.SeedRestaurant(fmt.Sprintf("r%d", i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed atomic.Int32
	d := newDispatcher(t, st, catalog.KindRestaurant, 1, processorFunc(func(context.Context, catalog.PendingUnit) (catalog.Outcome, error) {
		processed.Add(1)
		cancel()
		return catalog.OutcomeCommitted, nil
	}))

	summary, err := d.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), processed.Load())
	require.Equal(t, 1, summary.Committed)
	require.Equal(t, 4, summary.Skipped)
	require.Equal(t, catalog.RunCanceled, summary.Status)

	recorded, err := st.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Equal(t, catalog.RunCanceled, recorded.Status)
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore(memory.Hooks{})
	for i := 0; i < 12; i++ {
		st.SeedRestaurant(fmt.Sprintf("r%02d", i))
	}
	var inflight, peak atomic.Int32
	d := newDispatcher(t, st, catalog.KindRestaurant, 3, processorFunc(func(context.Context, catalog.PendingUnit) (catalog.Outcome, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return catalog.OutcomeCommitted, nil
	}))

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12, summary.Committed)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunReturnsPendingQueryError(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	d, err := New(Config{Kind: catalog.KindRestaurant}, Deps{
		Source:    failingSource{},
		Processor: processorFunc(nil),
		Publisher: pub,
		IDs:       &seqIDs{},
		Clock:     clock,
	})
	require.NoError(t, err)

	summary, err := d.Run(context.Background())
	require.ErrorContains(t, err, "relation does not exist")
	require.Equal(t, catalog.RunError, summary.Status)
	require.NotEmpty(t, summary.Error)
	require.Len(t, pub.Messages(), 1)
}

func TestRunPublishesSummary(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore(memory.Hooks{})
	st.SeedRestaurant("r1")
	pub := pubmemory.New()
	d, err := New(Config{Kind: catalog.KindRestaurant}, Deps{
		Source: st,
		Processor: processorFunc(func(context.Context, catalog.PendingUnit) (catalog.Outcome, error) {
			return catalog.OutcomeCommitted, nil
		}),
		Publisher: pub,
		IDs:       &seqIDs{},
		Clock:     clock,
	})
	require.NoError(t, err)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.Messages(), 1)
	published, ok := pub.Messages()[0].(catalog.RunSummary)
	require.True(t, ok)
	require.Equal(t, summary, published)
}

func TestRunToleratesPublishFailure(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore(memory.Hooks{})
	pub := pubmemory.New()
	pub.FailWith(errors.New("topic not found"))
	d, err := New(Config{Kind: catalog.KindTag}, Deps{
		Source:    st,
		Processor: processorFunc(nil),
		Recorder:  st,
		Publisher: pub,
		IDs:       &seqIDs{},
		Clock:     clock,
	})
	require.NoError(t, err)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, catalog.RunCompleted, summary.Status)
	require.Zero(t, summary.Pending)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Kind: catalog.KindTag}, Deps{})
	require.Error(t, err)
}

type failingSource struct{}

func (failingSource) Pending(context.Context, catalog.Kind) ([]catalog.PendingUnit, error) {
	return nil, errors.New("relation does not exist")
}
