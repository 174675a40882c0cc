// Package upstream fetches the raw catalog documents, one remote call per
// pending unit.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcloughlin/geohash"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	collyfetcher "github.com/JakeFAU/realtime-menu-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-menu-ingest/internal/metrics"
)

const (
	// DefaultGeohashPrecision matches the listing page's expected geohash length.
	DefaultGeohashPrecision = 9

	nextDataSelector = "script#__NEXT_DATA__"
	deviceCookie     = "roo_guid"
	propsCookie      = "roo_super_properties"
)

// Config locates the upstream endpoints. URL templates use {geohash} and {id}
// placeholders.
type Config struct {
	MenuURL          string `mapstructure:"menu_url"`
	LocationURL      string `mapstructure:"location_url"`
	TagsURL          string `mapstructure:"tags_url"`
	GeohashPrecision uint   `mapstructure:"geohash_precision"`
	// SuperProperties is an opaque device profile sent with menu calls when set.
	SuperProperties string `mapstructure:"super_properties"`
}

// Doer executes one HTTP round trip.
type Doer interface {
	Do(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error)
}

// Client builds upstream requests and decodes their documents.
type Client struct {
	doer    Doer
	cfg     Config
	newID   func() string
	observe func(kind catalog.Kind, d time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithDeviceIDs sets the generator of per-call device identifiers.
func WithDeviceIDs(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New creates a Client.
func New(doer Doer, cfg Config, opts ...Option) (*Client, error) {
	if doer == nil {
		return nil, fmt.Errorf("upstream doer is required")
	}
	if cfg.MenuURL == "" || cfg.LocationURL == "" || cfg.TagsURL == "" {
		return nil, fmt.Errorf("menu, location and tags urls are required")
	}
	if cfg.GeohashPrecision == 0 {
		cfg.GeohashPrecision = DefaultGeohashPrecision
	}
	c := &Client{
		doer:    doer,
		cfg:     cfg,
		newID:   uuid.NewString,
		observe: func(kind catalog.Kind, d time.Duration) { metrics.ObserveFetch(kind.String(), d) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Menu fetches the menu page of a restaurant unit.
func (c *Client) Menu(ctx context.Context, unit catalog.PendingUnit) (MenuPage, error) {
	payload := graphQLRequest{
		Query: menuPageQuery,
		Variables: menuVariables{
			Options: menuOptions{
				RestaurantID:      unit.ID,
				FulfillmentMethod: "DELIVERY",
			},
			RequestUUID: c.newID(),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return MenuPage{}, fmt.Errorf("marshal menu query: %w", err)
	}

	resp, err := c.do(ctx, catalog.KindRestaurant, collyfetcher.Request{
		Method: http.MethodPost,
		URL:    c.cfg.MenuURL,
		Body:   body,
		Headers: http.Header{
			"Accept":       {"application/json"},
			"Content-Type": {"application/json"},
		},
		Cookies: c.sessionCookies(),
	})
	if err != nil {
		return MenuPage{}, fmt.Errorf("fetch menu %s: %w", unit.ID, err)
	}

	var envelope menuEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return MenuPage{}, fmt.Errorf("decode menu %s: %w: %w", unit.ID, catalog.ErrInvalidResponse, err)
	}
	if envelope.Data == nil || envelope.Data.GetMenuPage == nil || envelope.Data.GetMenuPage.Meta == nil {
		return MenuPage{}, fmt.Errorf("menu %s: %w", unit.ID, catalog.ErrEmptyResult)
	}
	return *envelope.Data.GetMenuPage.Meta, nil
}

// Location fetches the restaurant listing around a location unit.
func (c *Client) Location(ctx context.Context, unit catalog.PendingUnit) (LocationFeed, error) {
	if unit.Coordinates == nil {
		return LocationFeed{}, fmt.Errorf("location %s has no coordinates", unit.ID)
	}
	hash := geohash.EncodeWithPrecision(unit.Coordinates.Latitude, unit.Coordinates.Longitude, c.cfg.GeohashPrecision)
	target := strings.ReplaceAll(c.cfg.LocationURL, "{geohash}", url.QueryEscape(hash))

	resp, err := c.do(ctx, catalog.KindLocation, collyfetcher.Request{
		Method:  http.MethodGet,
		URL:     target,
		Headers: http.Header{"Accept": {"text/html"}},
		Capture: nextDataSelector,
	})
	if err != nil {
		return LocationFeed{}, fmt.Errorf("fetch location %s: %w", unit.ID, err)
	}
	if !resp.Found || strings.TrimSpace(resp.Captured) == "" {
		return LocationFeed{}, fmt.Errorf("location %s: no page data: %w", unit.ID, catalog.ErrEmptyResult)
	}

	var page nextData
	if err := json.Unmarshal([]byte(resp.Captured), &page); err != nil {
		return LocationFeed{}, fmt.Errorf("decode location %s: %w: %w", unit.ID, catalog.ErrInvalidResponse, err)
	}
	results := page.Props.InitialState.Home.Feed.Results.Data
	if len(results) == 0 || results[0].Blocks == nil {
		return LocationFeed{}, fmt.Errorf("location %s: no feed results: %w", unit.ID, catalog.ErrEmptyResult)
	}
	return LocationFeed{Geohash: hash, Blocks: *results[0].Blocks}, nil
}

// Tags fetches the menu tags of a restaurant unit.
func (c *Client) Tags(ctx context.Context, unit catalog.PendingUnit) (TagDocument, error) {
	target := strings.ReplaceAll(c.cfg.TagsURL, "{id}", url.PathEscape(unit.ID))
	resp, err := c.do(ctx, catalog.KindTag, collyfetcher.Request{
		Method:  http.MethodGet,
		URL:     target,
		Headers: http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		return TagDocument{}, fmt.Errorf("fetch tags %s: %w", unit.ID, err)
	}

	var envelope struct {
		Menu *struct {
			MenuTags []MenuTag `json:"menu_tags"`
		} `json:"menu"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return TagDocument{}, fmt.Errorf("decode tags %s: %w: %w", unit.ID, catalog.ErrInvalidResponse, err)
	}
	if envelope.Menu == nil {
		return TagDocument{}, fmt.Errorf("tags %s: %w", unit.ID, catalog.ErrEmptyResult)
	}
	return TagDocument{Tags: envelope.Menu.MenuTags}, nil
}

func (c *Client) do(ctx context.Context, kind catalog.Kind, req collyfetcher.Request) (collyfetcher.Response, error) {
	resp, err := c.doer.Do(ctx, req)
	if err == nil {
		c.observe(kind, resp.Duration)
	}
	return resp, err
}

// sessionCookies returns a fresh device identity for one call.
func (c *Client) sessionCookies() []*http.Cookie {
	cookies := []*http.Cookie{{Name: deviceCookie, Value: c.newID()}}
	if c.cfg.SuperProperties != "" {
		cookies = append(cookies, &http.Cookie{Name: propsCookie, Value: c.cfg.SuperProperties})
	}
	return cookies
}

type nextData struct {
	Props struct {
		InitialState struct {
			Home struct {
				Feed struct {
					Results struct {
						Data []struct {
							Blocks *[]LocationBlock `json:"blocks"`
						} `json:"data"`
					} `json:"results"`
				} `json:"feed"`
			} `json:"home"`
		} `json:"initialState"`
	} `json:"props"`
}
