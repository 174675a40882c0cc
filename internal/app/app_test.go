package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/config"
	collyfetcher "github.com/JakeFAU/realtime-menu-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-menu-ingest/internal/normalize"
	pubmemory "github.com/JakeFAU/realtime-menu-ingest/internal/publisher/memory"
	"github.com/JakeFAU/realtime-menu-ingest/internal/storage/memory"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

// upstreamStub answers the three endpoints the way the real service shapes them.
type upstreamStub struct {
	mu    sync.Mutex
	calls map[string]int
}

func (u *upstreamStub) Do(_ context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	u.mu.Lock()
	if u.calls == nil {
		u.calls = make(map[string]int)
	}
	defer u.mu.Unlock()

	switch {
	case strings.Contains(req.URL, "/feed"):
		u.calls["location"]++
		return collyfetcher.Response{Found: true, Captured: `{"props":{"initialState":{"home":{"feed":{"results":{"data":[{"blocks":[
			{"target":{"restaurant":{"id":"r1"}}},
			{"target":{"restaurant":{"id":"r2"}}},
			{"target":{}}
		]}]}}}}}}`}, nil
	case strings.Contains(req.URL, "/graphql"):
		u.calls["menu"]++
		var body struct {
			Variables struct {
				Options struct {
					RestaurantID string `json:"restaurant_id"`
				} `json:"options"`
			} `json:"variables"`
		}
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return collyfetcher.Response{}, err
		}
		id := body.Variables.Options.RestaurantID
		if id == "r2" {
			return collyfetcher.Response{}, fmt.Errorf("POST %s: %w", req.URL, catalog.ErrUnreachable)
		}
		return collyfetcher.Response{Body: []byte(fmt.Sprintf(`{"data":{"get_menu_page":{"meta":{
			"restaurant":{"id":%q,"name":"Pizza Place"},
			"items":[{"id":"i1"},{"id":"i2"}],
			"categories":[{"id":"c1","item_ids":["i1","i2"]}]
		}}}}`, id))}, nil
	case strings.Contains(req.URL, "/restaurants/"):
		u.calls["tags"]++
		return collyfetcher.Response{Body: []byte(`{"menu":{"menu_tags":[{"type":"Locale","name":"Italian"}]}}`)}, nil
	}
	return collyfetcher.Response{}, fmt.Errorf("GET %s: %w", req.URL, catalog.ErrNotFound)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Upstream.MenuURL = "https://api.example.test/graphql"
	cfg.Upstream.LocationURL = "https://www.example.test/feed?geohash={geohash}"
	cfg.Upstream.TagsURL = "https://ow.example.test/restaurants/{id}"
	cfg.Gates.Location.MinSpacing = 0
	cfg.Gates.Restaurant.MinSpacing = 0
	cfg.Export.Dir = t.TempDir()
	cfg.Export.Prefix = "nightly"
	return cfg
}

func buildTestApp(t *testing.T, st *memory.CatalogStore, pub catalog.Publisher) (*App, *upstreamStub) {
	t.Helper()
	stub := &upstreamStub{}
	a, err := Build(testConfig(t), zap.NewNop(), Deps{Backend: st, Doer: stub, Publisher: pub, Clock: fixedClock{}})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, stub
}

func TestRunProcessesEveryKindInOrder(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore(memory.Hooks{})
	st.SeedLocation("l1", 51.5416, -0.0954)
	pub := pubmemory.New()
	a, stub := buildTestApp(t, st, pub)

	summaries, err := a.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	require.Equal(t, catalog.KindLocation, summaries[0].Kind)
	require.Equal(t, 1, summaries[0].Committed)

	require.Equal(t, catalog.KindRestaurant, summaries[1].Kind)
	require.Equal(t, 2, summaries[1].Pending)
	require.Equal(t, 1, summaries[1].Committed)
	require.Equal(t, map[string]int{"unreachable": 1}, summaries[1].ByReason)

	require.Equal(t, catalog.KindTag, summaries[2].Kind)
	require.Equal(t, 2, summaries[2].Committed)

	require.Len(t, st.Rows(normalize.TableLocationsToRestaurants), 2)
	require.Len(t, st.Rows(normalize.TableItems), 2)
	require.Len(t, st.Rows(normalize.TableRestaurantsToCategories), 2)
	_, visited := st.Marker(catalog.KindRestaurant, "r2")
	require.False(t, visited)
	require.Equal(t, map[string]int{"location": 1, "menu": 2, "tags": 2}, stub.calls)
	require.Len(t, pub.Messages(), 3)

	again, err := a.Run(context.Background(), []catalog.Kind{catalog.KindRestaurant})
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, 1, again[0].Pending)
}

func TestRunStopsWhenCanceled(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore(memory.Hooks{})
	a, _ := buildTestApp(t, st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summaries, err := a.Run(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, summaries)
}

func TestExportWritesTables(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore(memory.Hooks{})
	st.SeedLocation("l1", 51.5, -0.1)
	a, _ := buildTestApp(t, st, nil)

	artifacts, err := a.Export(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 10)
	require.Equal(t, "locations", artifacts[0].Table)
	require.Equal(t, int64(1), artifacts[0].Rows)

	path := filepath.Join(a.cfg.Export.Dir, "nightly", "20240301T120000Z", "locations.csv")
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "id,latitude,longitude\nl1,51.5,-0.1\n", string(body))
}

func TestHandlerServesRuns(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore(memory.Hooks{})
	st.SeedRestaurant("r1")
	a, _ := buildTestApp(t, st, nil)
	summaries, err := a.Run(context.Background(), []catalog.Kind{catalog.KindTag})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+summaries[0].RunID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"completed"`)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServeStopsWithContext(t *testing.T) {
	t.Parallel()

	a, _ := buildTestApp(t, memory.NewCatalogStore(memory.Hooks{}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestBuildValidates(t *testing.T) {
	t.Parallel()

	_, err := Build(testConfig(t), nil, Deps{})
	require.Error(t, err)

	cfg := testConfig(t)
	cfg.Upstream.MenuURL = ""
	_, err = Build(cfg, nil, Deps{Backend: memory.NewCatalogStore(memory.Hooks{}), Doer: &upstreamStub{}})
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.ErrorContains(t, err, "db.dsn")
}
