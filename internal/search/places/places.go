// Package places implements the detailed search provider against the
// Google Places API (New). It is the primary validation backend: text
// search locates a candidate, a details fetch retrieves the full
// attribute set.
package places

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/crakt/gymmap/internal/fetch"
	"github.com/crakt/gymmap/internal/ratelimit"
	"github.com/crakt/gymmap/pkg/errors"
	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/validate"
)

const (
	defaultBaseURL = "https://places.googleapis.com/v1"

	// locationBiasRadiusM biases the text search toward known coordinates.
	locationBiasRadiusM = 5000.0

	searchFieldMask = "places.name,places.displayName"
	detailFieldMask = "displayName,formattedAddress,internationalPhoneNumber," +
		"nationalPhoneNumber,websiteUri,location,businessStatus," +
		"currentOpeningHours,regularOpeningHours"
)

// Client talks to the Places API. Interactive validation endpoint: retries
// are capped at 30s backoff.
type Client struct {
	apiKey  string
	baseURL string
	fetch   *fetch.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithFetcher replaces the underlying fetcher.
func WithFetcher(f *fetch.Client) Option {
	return func(c *Client) { c.fetch = f }
}

// New creates a Places client. The limiter must be dedicated to this
// service.
func New(apiKey string, limiter *ratelimit.Limiter, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.ErrAPIKeyRequired
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		fetch: fetch.New("google_places",
			fetch.WithMaxRetries(3),
			fetch.WithBackoffCap(30*time.Second),
			fetch.WithLimiter(limiter),
			fetch.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Provider implements validate.SearchClient.
func (c *Client) Provider() string { return "google_places" }

type searchRequest struct {
	TextQuery    string        `json:"textQuery"`
	LocationBias *locationBias `json:"locationBias,omitempty"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type searchResponse struct {
	Places []struct {
		Name string `json:"name"` // resource name, "places/ChIJ..."
		ID   string `json:"id"`
	} `json:"places"`
}

// Locate runs a text search composed from the gym name, a domain hint, and
// the city/state, biased toward known coordinates. Returns "" on zero
// results.
func (c *Client) Locate(ctx context.Context, gym *gyms.Gym) (string, error) {
	query := []string{gym.Name, "climbing gym"}
	switch {
	case gym.City != "" && gym.State != "":
		query = append(query, gym.City+", "+gym.State)
	case gym.City != "":
		query = append(query, gym.City)
	}

	body := searchRequest{TextQuery: strings.Join(query, " ")}
	if gym.HasCoordinates() {
		body.LocationBias = &locationBias{Circle: circle{
			Center: latLng{Latitude: *gym.Latitude, Longitude: *gym.Longitude},
			Radius: locationBiasRadiusM,
		}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	c.applyHeaders(req, searchFieldMask)

	resp, err := c.fetch.Do(ctx, req)
	if err != nil {
		return "", err
	}

	var result searchResponse
	if err := fetch.DecodeJSON(resp, &result); err != nil {
		return "", err
	}
	if len(result.Places) == 0 {
		return "", nil
	}

	place := result.Places[0]
	if place.Name != "" {
		return place.Name, nil
	}
	return place.ID, nil
}

type detailResponse struct {
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress         string `json:"formattedAddress"`
	InternationalPhoneNumber string `json:"internationalPhoneNumber"`
	NationalPhoneNumber      string `json:"nationalPhoneNumber"`
	WebsiteURI               string `json:"websiteUri"`
	BusinessStatus           string `json:"businessStatus"`
	Location                 *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	CurrentOpeningHours *openingHours `json:"currentOpeningHours"`
	RegularOpeningHours *openingHours `json:"regularOpeningHours"`
}

type openingHours struct {
	WeekdayDescriptions []string `json:"weekdayDescriptions"`
}

// Details fetches the place by resource name.
func (c *Client) Details(ctx context.Context, id string) (*validate.Detail, error) {
	if !strings.HasPrefix(id, "places/") {
		id = "places/" + id
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+id, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req, detailFieldMask)

	resp, err := c.fetch.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var d detailResponse
	if err := fetch.DecodeJSON(resp, &d); err != nil {
		return nil, err
	}

	detail := &validate.Detail{
		Found: gyms.Found{
			Name:    d.DisplayName.Text,
			Address: d.FormattedAddress,
			Phone:   firstNonEmpty(d.InternationalPhoneNumber, d.NationalPhoneNumber),
			Website: d.WebsiteURI,
		},
		PermanentlyClosed: d.BusinessStatus == "CLOSED_PERMANENTLY",
	}
	if d.Location != nil {
		detail.Latitude = &d.Location.Latitude
		detail.Longitude = &d.Location.Longitude
	}
	if hours := firstHours(d.CurrentOpeningHours, d.RegularOpeningHours); hours != nil {
		detail.Hours = strings.Join(hours.WeekdayDescriptions, "; ")
	}
	return detail, nil
}

func (c *Client) applyHeaders(req *http.Request, fieldMask string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstHours(candidates ...*openingHours) *openingHours {
	for _, h := range candidates {
		if h != nil && len(h.WeekdayDescriptions) > 0 {
			return h
		}
	}
	return nil
}
