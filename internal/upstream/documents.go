package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Text is a JSON scalar that upstream sends as either a string or a number.
type Text string

// UnmarshalJSON accepts a string, a number or null.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode text: %w", err)
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode text: %w", err)
	}
	*t = Text(n.String())
	return nil
}

func (t Text) String() string {
	return string(t)
}

// Currency is a price as upstream presents it.
type Currency struct {
	Code           *string `json:"code"`
	Fractional     *int64  `json:"fractional"`
	Formatted      *string `json:"formatted"`
	Presentational *string `json:"presentational"`
}

// Category groups items on a menu.
type Category struct {
	ID          Text    `json:"id"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ItemIDs     []Text  `json:"item_ids"`
}

// Item is one menu entry.
type Item struct {
	ID                   Text      `json:"id"`
	UID                  *int64    `json:"uid"`
	CategoryID           *Text     `json:"category_id"`
	Name                 *string   `json:"name"`
	Description          *string   `json:"description"`
	ProductInformation   *string   `json:"product_information"`
	Price                *Currency `json:"price"`
	PriceDiscounted      *Currency `json:"price_discounted"`
	PercentageDiscounted *Text     `json:"percentage_discounted"`
	Calories             *Text     `json:"calories"`
	Available            *bool     `json:"available"`
	Popular              *bool     `json:"popular"`
	Alcohol              *bool     `json:"alcohol"`
	ModifierGroupIDs     []Text    `json:"modifier_group_ids"`
	MaxSelection         *int64    `json:"max_selection"`
	IsSignatureExclusive *bool     `json:"is_signature_exclusive"`
}

// ModifierGroup is a set of options attachable to items.
type ModifierGroup struct {
	ID              Text             `json:"id"`
	Name            *string          `json:"name"`
	Description     *string          `json:"description"`
	MinSelection    *int64           `json:"min_selection"`
	MaxSelection    *int64           `json:"max_selection"`
	Repeatable      *bool            `json:"repeatable"`
	ModifierOptions []ModifierOption `json:"modifier_options"`
}

// ModifierOption is one choice within a modifier group.
type ModifierOption struct {
	ID               Text      `json:"id"`
	UID              *int64    `json:"uid"`
	Name             *string   `json:"name"`
	Description      *string   `json:"description"`
	Price            *Currency `json:"price"`
	PriceDiscounted  *Currency `json:"price_discounted"`
	ModifierGroupIDs []Text    `json:"modifier_group_ids"`
	Available        *bool     `json:"available"`
}

// Address is the postal address of a restaurant.
type Address struct {
	Address1     *string  `json:"address1"`
	PostCode     *string  `json:"post_code"`
	Neighborhood *string  `json:"neighborhood"`
	City         *string  `json:"city"`
	Country      *string  `json:"country"`
	Lat          *float64 `json:"lat"`
	Lon          *float64 `json:"lon"`
}

// RestaurantLocation places a restaurant in upstream's delivery zones.
type RestaurantLocation struct {
	CityID  *Text    `json:"city_id"`
	ZoneID  *Text    `json:"zone_id"`
	Address *Address `json:"address"`
}

// Restaurant is the descriptive header of a menu page.
type Restaurant struct {
	ID                  Text                `json:"id"`
	DrnID               *string             `json:"drn_id"`
	MenuID              *Text               `json:"menu_id"`
	Name                *string             `json:"name"`
	BranchType          *string             `json:"branch_type"`
	AcceptsAllergyNotes *bool               `json:"accepts_allergy_notes"`
	CashTippingMessage  *string             `json:"cash_tipping_message"`
	Address             *string             `json:"address"`
	FulfillmentType     *string             `json:"fulfillment_type"`
	CurrencyCode        *string             `json:"currency_code"`
	CurrencySymbol      *string             `json:"currency_symbol"`
	MenuDisabled        *bool               `json:"menu_disabled"`
	Location            *RestaurantLocation `json:"location"`
}

// MenuPage is the raw document of a restaurant unit.
type MenuPage struct {
	Categories     []Category      `json:"categories"`
	Items          []Item          `json:"items"`
	ModifierGroups []ModifierGroup `json:"modifier_groups"`
	Restaurant     *Restaurant     `json:"restaurant"`
	Offer          json.RawMessage `json:"offer,omitempty"`
}

// LocationBlock is one tile of the listing feed. Non-restaurant tiles have no
// restaurant target.
type LocationBlock struct {
	Target struct {
		Restaurant *struct {
			ID *Text `json:"id"`
		} `json:"restaurant"`
	} `json:"target"`
}

// LocationFeed is the raw document of a location unit.
type LocationFeed struct {
	Geohash string
	Blocks  []LocationBlock
}

// MenuTag is a cuisine or dietary tag attached to a restaurant.
type MenuTag struct {
	Type *string `json:"type"`
	Name *string `json:"name"`
}

// TagDocument is the raw document of a tag unit.
type TagDocument struct {
	Tags []MenuTag
}
