package normalize

import (
	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/upstream"
)

// Table names written by the restaurant phase.
const (
	TableRestaurants           = "restaurants"
	TableItems                 = "items"
	TableCategories            = "categories"
	TableItemsToCategories     = "items_to_categories"
	TableModifierGroups        = "modifier_groups"
	TableModifierOptions       = "modifier_options"
	TableItemsToModifierGroups = "items_to_modifier_groups"
)

var restaurantColumns = []string{
	"drn_id", "menu_id", "name", "branch_type", "accepts_allergy_notes",
	"cash_tipping_message", "fulfillment_type", "currency_code", "currency_symbol", "menu_disabled",
	"location__city_id", "location__zone_id",
	"address__formatted", "address__address1", "address__postcode", "address__neighborhood",
	"address__city", "address__country", "address__lat", "address__lon",
}

var itemColumns = []string{
	"id", "restaurant_id", "uid", "category_id", "name", "description", "product_information",
	"price__code", "price__fractional", "price__formatted", "price__presentational",
	"price_discounted__code", "price_discounted__fractional", "price_discounted__formatted", "price_discounted__presentational",
	"percentage_discounted", "calories", "available", "popular", "alcohol", "max_selection", "is_signature_exclusive",
}

var categoryColumns = []string{"id", "restaurant_id", "name", "description"}

var itemCategoryColumns = []string{"item_id", "category_id", "restaurant_id"}

var modifierGroupColumns = []string{
	"id", "restaurant_id", "name", "description", "min_selection", "max_selection", "repeatable",
}

var modifierOptionColumns = []string{
	"id", "restaurant_id", "modifier_group_id", "uid", "name", "description",
	"price__code", "price__fractional", "price__formatted", "price__presentational",
	"price_discounted__code", "price_discounted__fractional", "price_discounted__formatted", "price_discounted__presentational",
	"available",
}

var itemModifierGroupColumns = []string{"item_id", "modifier_group_id", "restaurant_id"}

// Restaurant expands a menu page into the restaurant update and its child rows.
func Restaurant(unit catalog.PendingUnit, page upstream.MenuPage) (catalog.NormalizedBatch, error) {
	if page.Restaurant == nil {
		return catalog.NormalizedBatch{}, malformed(unit, "menu page has no restaurant")
	}
	r := *page.Restaurant
	if r.ID != "" && r.ID.String() != unit.ID {
		return catalog.NormalizedBatch{}, malformed(unit, "menu page belongs to restaurant %s", r.ID)
	}
	rid := unit.ID

	location := orNull(r.Location)
	address := orNull(location.Address)
	primary := &catalog.PrimaryUpdate{
		Table:   TableRestaurants,
		Key:     "id",
		ID:      rid,
		Columns: restaurantColumns,
		Values: []any{
			value(r.DrnID), text(r.MenuID), value(r.Name), value(r.BranchType), value(r.AcceptsAllergyNotes),
			value(r.CashTippingMessage), value(r.FulfillmentType), value(r.CurrencyCode), value(r.CurrencySymbol), value(r.MenuDisabled),
			text(location.CityID), text(location.ZoneID),
			value(r.Address), value(address.Address1), value(address.PostCode), value(address.Neighborhood),
			value(address.City), value(address.Country), value(address.Lat), value(address.Lon),
		},
	}

	items := catalog.NewRowGroup(TableItems, itemColumns...)
	itemGroups := catalog.NewRowGroup(TableItemsToModifierGroups, itemModifierGroupColumns...)
	for i, item := range page.Items {
		if item.ID == "" {
			return catalog.NormalizedBatch{}, malformed(unit, "item %d has no id", i)
		}
		items.Append(row(
			[]any{item.ID.String(), rid, value(item.UID), text(item.CategoryID),
				value(item.Name), value(item.Description), value(item.ProductInformation)},
			currency(item.Price),
			currency(item.PriceDiscounted),
			[]any{text(item.PercentageDiscounted), text(item.Calories), value(item.Available), value(item.Popular),
				value(item.Alcohol), value(item.MaxSelection), value(item.IsSignatureExclusive)},
		)...)
		for _, gid := range item.ModifierGroupIDs {
			if gid == "" {
				return catalog.NormalizedBatch{}, malformed(unit, "item %s references an empty modifier group", item.ID)
			}
			itemGroups.Append(item.ID.String(), gid.String(), rid)
		}
	}

	categories := catalog.NewRowGroup(TableCategories, categoryColumns...)
	itemCategories := catalog.NewRowGroup(TableItemsToCategories, itemCategoryColumns...)
	for i, c := range page.Categories {
		if c.ID == "" {
			return catalog.NormalizedBatch{}, malformed(unit, "category %d has no id", i)
		}
		categories.Append(c.ID.String(), rid, value(c.Name), value(c.Description))
		for _, itemID := range c.ItemIDs {
			if itemID == "" {
				return catalog.NormalizedBatch{}, malformed(unit, "category %s references an empty item", c.ID)
			}
			itemCategories.Append(itemID.String(), c.ID.String(), rid)
		}
	}

	groups := catalog.NewRowGroup(TableModifierGroups, modifierGroupColumns...)
	options := catalog.NewRowGroup(TableModifierOptions, modifierOptionColumns...)
	for i, g := range page.ModifierGroups {
		if g.ID == "" {
			return catalog.NormalizedBatch{}, malformed(unit, "modifier group %d has no id", i)
		}
		groups.Append(g.ID.String(), rid, value(g.Name), value(g.Description),
			value(g.MinSelection), value(g.MaxSelection), value(g.Repeatable))
		for j, o := range g.ModifierOptions {
			if o.ID == "" {
				return catalog.NormalizedBatch{}, malformed(unit, "modifier group %s option %d has no id", g.ID, j)
			}
			options.Append(row(
				[]any{o.ID.String(), rid, g.ID.String(), value(o.UID), value(o.Name), value(o.Description)},
				currency(o.Price),
				currency(o.PriceDiscounted),
				[]any{value(o.Available)},
			)...)
		}
	}

	return finish(catalog.NormalizedBatch{
		Unit:    unit,
		Primary: primary,
		// Parents precede the junctions that reference them.
		Groups: []catalog.RowGroup{items, categories, itemCategories, groups, options, itemGroups},
	})
}
