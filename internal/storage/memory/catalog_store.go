package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/normalize"
	"github.com/JakeFAU/realtime-menu-ingest/internal/store"
)

// Hooks inject failures into CatalogStore for tests.
type Hooks struct {
	// Acquire runs before a session is handed out.
	Acquire func() error
	// BeforeMarker runs after the rows are staged and before the marker is set.
	BeforeMarker func(batch catalog.NormalizedBatch) error
}

type row map[string]any

type table struct {
	rows  map[string]row
	order []string
}

// CatalogStore is a transactional in-memory stand-in for the Postgres store.
// Writes follow the same conflict-skip and marker rules.
type CatalogStore struct {
	mu       sync.Mutex
	tables   map[string]*table
	runs     map[string]catalog.RunSummary
	hooks    Hooks
	acquired int
	released int
}

// NewCatalogStore creates an empty store.
func NewCatalogStore(hooks Hooks) *CatalogStore {
	return &CatalogStore{
		tables: make(map[string]*table),
		runs:   make(map[string]catalog.RunSummary),
		hooks:  hooks,
	}
}

// SeedLocation inserts a pending location.
func (s *CatalogStore) SeedLocation(id string, lat, lon float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(normalize.TableLocations, row{"id": id, "latitude": lat, "longitude": lon})
}

// SeedRestaurant inserts a pending restaurant.
func (s *CatalogStore) SeedRestaurant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(normalize.TableRestaurants, row{"id": id})
}

// Pending lists units whose marker is unset, ordered by id.
func (s *CatalogStore) Pending(_ context.Context, kind catalog.Kind) ([]catalog.PendingUnit, error) {
	marker, err := catalog.MarkerFor(kind)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tables[marker.Table]
	if t == nil {
		return nil, nil
	}
	var units []catalog.PendingUnit
	for _, key := range t.order {
		r := t.rows[key]
		if r[marker.Column] != nil {
			continue
		}
		unit := catalog.PendingUnit{ID: fmt.Sprint(r[marker.Key]), Kind: kind}
		if kind == catalog.KindLocation {
			lat, latOK := r["latitude"].(float64)
			lon, lonOK := r["longitude"].(float64)
			if !latOK || !lonOK {
				continue
			}
			unit.Coordinates = &catalog.Coordinates{Latitude: lat, Longitude: lon}
		}
		units = append(units, unit)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units, nil
}

// Acquire hands out a session.
func (s *CatalogStore) Acquire(context.Context) (catalog.Session, error) {
	if s.hooks.Acquire != nil {
		if err := s.hooks.Acquire(); err != nil {
			return nil, fmt.Errorf("acquire session: %w: %w", catalog.ErrPersistence, err)
		}
	}
	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	return &catalogSession{store: s}, nil
}

// Sessions reports how many sessions were acquired and released.
func (s *CatalogStore) Sessions() (acquired, released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.released
}

// Rows returns copies of a table's rows in insertion order.
func (s *CatalogStore) Rows(name string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[name]
	if t == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(t.order))
	for _, key := range t.order {
		cp := make(map[string]any, len(t.rows[key]))
		for k, v := range t.rows[key] {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// Marker returns the completion marker of a unit.
func (s *CatalogStore) Marker(kind catalog.Kind, id string) (time.Time, bool) {
	marker, err := catalog.MarkerFor(kind)
	if err != nil {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lookup(marker.Table, id)
	if r == nil {
		return time.Time{}, false
	}
	at, ok := r[marker.Column].(time.Time)
	return at, ok
}

func (s *CatalogStore) lookup(name, id string) row {
	t := s.tables[name]
	if t == nil {
		return nil
	}
	return t.rows[rowKey(name, row{"id": id})]
}

// insert adds r unless a row with the same unique key exists.
func (s *CatalogStore) insert(name string, r row) bool {
	t := s.tables[name]
	if t == nil {
		t = &table{rows: make(map[string]row)}
		s.tables[name] = t
	}
	key := rowKey(name, r)
	if _, exists := t.rows[key]; exists {
		return false
	}
	t.rows[key] = r
	t.order = append(t.order, key)
	return true
}

func rowKey(name string, r row) string {
	cols, ok := normalize.UniqueKeys[name]
	if !ok {
		cols = make([]string, 0, len(r))
		for c := range r {
			cols = append(cols, c)
		}
		sort.Strings(cols)
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(r[c])
	}
	return strings.Join(parts, "\x00")
}

type catalogSession struct {
	store *CatalogStore
	once  sync.Once
}

func (c *catalogSession) Release() {
	c.once.Do(func() {
		c.store.mu.Lock()
		c.store.released++
		c.store.mu.Unlock()
	})
}

// Commit stages the whole batch and applies it only if every step succeeds.
func (c *catalogSession) Commit(_ context.Context, batch catalog.NormalizedBatch, at time.Time) error {
	fail := func(step string, err error) error {
		return fmt.Errorf("%s %s %s: %w: %w", step, batch.Unit.Kind, batch.Unit.ID, catalog.ErrPersistence, err)
	}
	marker, err := catalog.MarkerFor(batch.Unit.Kind)
	if err != nil {
		return fail("resolve marker", err)
	}
	if err := batch.Validate(); err != nil {
		return fail("validate", err)
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	type staged struct {
		table string
		row   row
	}
	var inserts []staged
	for _, g := range batch.Groups {
		for _, values := range g.Rows {
			r := make(row, len(g.Columns))
			for i, col := range g.Columns {
				r[col] = values[i]
			}
			inserts = append(inserts, staged{table: g.Table, row: r})
		}
	}

	target := s.lookup(marker.Table, batch.Unit.ID)
	if target == nil {
		return fail("set marker", fmt.Errorf("%s row %s not found", marker.Table, batch.Unit.ID))
	}
	if s.hooks.BeforeMarker != nil {
		if err := s.hooks.BeforeMarker(batch); err != nil {
			return fail("set marker", err)
		}
	}

	// Nothing below can fail, so the batch lands whole.
	if p := batch.Primary; p != nil {
		if r := s.lookup(p.Table, p.ID); r != nil {
			for i, col := range p.Columns {
				r[col] = p.Values[i]
			}
		}
	}
	for _, in := range inserts {
		s.insert(in.table, in.row)
	}
	if target[marker.Column] == nil {
		target[marker.Column] = at
	}
	return nil
}

// StartRun records a running run.
func (s *CatalogStore) StartRun(_ context.Context, summary catalog.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[summary.RunID]; exists {
		return fmt.Errorf("run %s already exists", summary.RunID)
	}
	summary.Status = catalog.RunRunning
	s.runs[summary.RunID] = summary
	return nil
}

// FinishRun stores the final summary of a run.
func (s *CatalogStore) FinishRun(_ context.Context, summary catalog.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[summary.RunID]; !exists {
		return store.ErrNotFound
	}
	s.runs[summary.RunID] = summary
	return nil
}

// GetRun loads a run by id.
func (s *CatalogStore) GetRun(_ context.Context, runID string) (catalog.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return catalog.RunSummary{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *CatalogStore) ListRuns(_ context.Context, filter store.RunFilter) ([]catalog.RunSummary, error) {
	filter = filter.Normalize()
	s.mu.Lock()
	runs := make([]catalog.RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Kind != nil && run.Kind != *filter.Kind {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if filter.Offset >= len(runs) {
		return nil, nil
	}
	runs = runs[filter.Offset:]
	if len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}
