package normalize

// UniqueKeys lists the conflict key of every table a batch can write. Child
// rows carry the owning restaurant id so the same upstream id under two
// restaurants stays distinct.
var UniqueKeys = map[string][]string{
	TableLocations:               {"id"},
	TableRestaurants:             {"id"},
	TableItems:                   {"id", "restaurant_id"},
	TableCategories:              {"id", "restaurant_id"},
	TableItemsToCategories:       {"item_id", "category_id", "restaurant_id"},
	TableModifierGroups:          {"id", "restaurant_id"},
	TableModifierOptions:         {"id", "modifier_group_id", "restaurant_id"},
	TableItemsToModifierGroups:   {"item_id", "modifier_group_id", "restaurant_id"},
	TableLocationsToRestaurants:  {"location_id", "restaurant_id"},
	TableRestaurantsToCategories: {"restaurant_id", "category_name"},
}
