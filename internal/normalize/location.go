package normalize

import (
	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/upstream"
)

// Table names written by the location phase.
const (
	TableLocations              = "locations"
	TableLocationsToRestaurants = "locations_to_restaurants"
)

// Location expands a listing feed into restaurant seed rows and location
// junction rows. Blocks without a restaurant id are dropped.
func Location(unit catalog.PendingUnit, feed upstream.LocationFeed) (catalog.NormalizedBatch, error) {
	seeds := catalog.NewRowGroup(TableRestaurants, "id")
	links := catalog.NewRowGroup(TableLocationsToRestaurants, "location_id", "restaurant_id")

	seen := make(map[string]struct{}, len(feed.Blocks))
	for _, b := range feed.Blocks {
		target := b.Target.Restaurant
		if target == nil || target.ID == nil || *target.ID == "" {
			continue
		}
		id := target.ID.String()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		seeds.Append(id)
		links.Append(unit.ID, id)
	}

	batch := catalog.NormalizedBatch{
		Unit:   unit,
		Groups: []catalog.RowGroup{seeds, links},
	}
	if feed.Geohash != "" {
		batch.Primary = &catalog.PrimaryUpdate{
			Table:   TableLocations,
			Key:     "id",
			ID:      unit.ID,
			Columns: []string{"geohash"},
			Values:  []any{feed.Geohash},
		}
	}
	return finish(batch)
}
