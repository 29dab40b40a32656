// Package nominatim implements the fallback validation backend against the
// OpenStreetMap Nominatim search API. It is free but rate-capped to one
// request per second, returns a single candidate, and supports no detail
// fetch, so its confidence bands are coarser than the primary provider's:
// coordinates and name are all it can compare.
package nominatim

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/utc"

	"github.com/crakt/gymmap/internal/fetch"
	"github.com/crakt/gymmap/internal/ratelimit"
	"github.com/crakt/gymmap/pkg/geo"
	"github.com/crakt/gymmap/pkg/gyms"
)

const defaultBaseURL = "https://nominatim.openstreetmap.org"

// Confidence bands. Coordinates are the only signal available.
const (
	baselineConfidence = 0.5
	nearbyConfidence   = 0.8
	farConfidence      = 0.3
	nearbyKm           = 0.5
	farKm              = 2.0
)

// Client queries Nominatim. One instance owns its own 1 rps limiter unless
// a custom fetcher is supplied.
type Client struct {
	baseURL string
	fetch   *fetch.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithFetcher replaces the underlying fetcher.
func WithFetcher(f *fetch.Client) Option {
	return func(c *Client) { c.fetch = f }
}

// New creates a Nominatim client with the etiquette-mandated 1 rps limit.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		fetch: fetch.New("nominatim",
			fetch.WithMaxRetries(3),
			fetch.WithBackoffCap(30*time.Second),
			fetch.WithLimiter(ratelimit.New(1.0, 1)),
			fetch.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Check implements validate.Checker with the single-call shape: one search,
// coordinate/name comparison only.
func (c *Client) Check(ctx context.Context, gym *gyms.Gym) gyms.Outcome {
	outcome := gyms.Outcome{
		GymID:     gym.ID,
		Provider:  "nominatim",
		CheckedAt: utc.Now(),
	}

	results, err := c.search(ctx, gym)
	if err != nil {
		outcome.Status = gyms.StatusError
		outcome.ErrorMessage = err.Error()
		return outcome
	}
	if len(results) == 0 {
		outcome.Status = gyms.StatusNotFound
		return outcome
	}

	r := results[0]
	foundName := strings.TrimSpace(strings.SplitN(r.DisplayName, ",", 2)[0])
	lat, latErr := strconv.ParseFloat(r.Lat, 64)
	lon, lonErr := strconv.ParseFloat(r.Lon, 64)

	outcome.Found.Name = foundName
	if latErr == nil && lonErr == nil {
		outcome.Found.Latitude = &lat
		outcome.Found.Longitude = &lon
	}

	confidence := baselineConfidence
	var changes []string
	if gym.HasCoordinates() && outcome.Found.HasCoordinates() {
		dist := geo.HaversineKm(*gym.Latitude, *gym.Longitude, lat, lon)
		switch {
		case dist < nearbyKm:
			confidence = nearbyConfidence
		case dist > farKm:
			changes = append(changes, fmt.Sprintf("Location differs by %.2fkm", dist))
			confidence = farConfidence
		}
	}

	outcome.Confidence = confidence
	outcome.Changes = changes
	if confidence > 0.6 && len(changes) == 0 {
		outcome.Status = gyms.StatusValid
	} else {
		outcome.Status = gyms.StatusUpdated
	}
	return outcome
}

func (c *Client) search(ctx context.Context, gym *gyms.Gym) ([]searchResult, error) {
	query := []string{gym.Name, "climbing gym"}
	if gym.City != "" {
		query = append(query, gym.City)
	}
	if gym.State != "" {
		query = append(query, gym.State)
	}

	params := url.Values{
		"q":              {strings.Join(query, " ")},
		"format":         {"json"},
		"limit":          {"1"},
		"addressdetails": {"1"},
	}

	header := http.Header{"Accept": {"application/json"}}
	resp, err := c.fetch.Get(ctx, c.baseURL+"/search?"+params.Encode(), header)
	if err != nil {
		return nil, err
	}

	var results []searchResult
	if err := fetch.DecodeJSON(resp, &results); err != nil {
		return nil, err
	}
	return results, nil
}
