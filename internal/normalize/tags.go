package normalize

import (
	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/upstream"
)

// TableRestaurantsToCategories holds the tag associations.
const TableRestaurantsToCategories = "restaurants_to_categories"

// Tags expands a tag document into (restaurant_id, category_name, category_type) rows.
func Tags(unit catalog.PendingUnit, doc upstream.TagDocument) (catalog.NormalizedBatch, error) {
	rows := catalog.NewRowGroup(TableRestaurantsToCategories, "restaurant_id", "category_name", "category_type")
	for i, tag := range doc.Tags {
		if tag.Name == nil || *tag.Name == "" {
			return catalog.NormalizedBatch{}, malformed(unit, "tag %d has no name", i)
		}
		rows.Append(unit.ID, *tag.Name, value(tag.Type))
	}
	return finish(catalog.NormalizedBatch{
		Unit:   unit,
		Groups: []catalog.RowGroup{rows},
	})
}
