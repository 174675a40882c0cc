package upstream

// menuPageQuery requests everything the normalizer reads from a menu page.
const menuPageQuery = `query GetMenuPage($options: MenuOptionsInput, $requestUuid: String) {
  get_menu_page(options: $options, request_uuid: $requestUuid) {
    meta {
      categories { id name description item_ids }
      items {
        id uid category_id name description product_information
        price { code fractional formatted presentational }
        price_discounted { code fractional formatted presentational }
        percentage_discounted calories available popular alcohol
        modifier_group_ids max_selection is_signature_exclusive
      }
      modifier_groups {
        id name description min_selection max_selection repeatable
        modifier_options {
          id uid name description
          price { code fractional formatted presentational }
          price_discounted { code fractional formatted presentational }
          modifier_group_ids available
        }
      }
      restaurant {
        id drn_id menu_id name branch_type accepts_allergy_notes
        cash_tipping_message address fulfillment_type currency_code
        currency_symbol menu_disabled
        location {
          city_id zone_id
          address { address1 post_code neighborhood city country lat lon }
        }
      }
      offer {
        offer {
          minimum_order_value { code fractional formatted presentational }
          __typename
          ... on FullMenuPercentOffOffer {
            alcohol_allowed
            max_discount { code fractional formatted presentational }
            percentage_discount
          }
          ... on FreeItemOffer {
            alcohol_allowed
            max_discount { code fractional formatted presentational }
            item_ids
          }
          ... on FlashDealOffer {
            alcohol_allowed
            max_discount { code fractional formatted presentational }
            percentage_discount
          }
          ... on ItemSpecificPercentOffOffer {
            alcohol_allowed
            max_discount { code fractional formatted presentational }
            percentage_discount
            item_ids
          }
          ... on FreeDeliveryOffer { alcohol_allowed }
        }
      }
    }
  }
}`

type menuVariables struct {
	Options     menuOptions `json:"options"`
	RequestUUID string      `json:"requestUuid"`
}

type menuOptions struct {
	RestaurantID      string   `json:"restaurant_id"`
	Location          struct{} `json:"location"`
	FulfillmentMethod string   `json:"fulfillment_method"`
}

type graphQLRequest struct {
	Query     string        `json:"query"`
	Variables menuVariables `json:"variables"`
}

type menuEnvelope struct {
	Data *struct {
		GetMenuPage *struct {
			Meta *MenuPage `json:"meta"`
		} `json:"get_menu_page"`
	} `json:"data"`
}
