// Package overpass pulls indoor climbing facilities from OpenStreetMap via
// the Overpass API. One country-wide query returns every sports centre or
// climbing feature tagged as indoor, with way/relation geometry reduced to
// center points.
package overpass

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/utc"

	"github.com/crakt/gymmap/internal/fetch"
	"github.com/crakt/gymmap/internal/ratelimit"
	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/logging"
)

const defaultEndpoint = "https://overpass-api.de/api/interpreter"

// query covers sports centres with a climbing sport tag plus standalone
// climbing features flagged indoor or climbing:gym, US-wide. "out center"
// collapses ways and relations to a representative point.
const query = `[out:json][timeout:180];
area["ISO3166-1"="US"][admin_level=2]->.searchArea;

(
  node["leisure"="sports_centre"]["sport"~"(^|;)\s*climbing\s*(;|$)"](area.searchArea);
  way["leisure"="sports_centre"]["sport"~"(^|;)\s*climbing\s*(;|$)"](area.searchArea);
  relation["leisure"="sports_centre"]["sport"~"(^|;)\s*climbing\s*(;|$)"](area.searchArea);

  node["sport"="climbing"]["indoor"~"yes|true|1"](area.searchArea);
  way["sport"="climbing"]["indoor"~"yes|true|1"](area.searchArea);
  relation["sport"="climbing"]["indoor"~"yes|true|1"](area.searchArea);

  node["sport"="climbing"]["climbing:gym"~"yes|true|1"](area.searchArea);
  way["sport"="climbing"]["climbing:gym"~"yes|true|1"](area.searchArea);
  relation["sport"="climbing"]["climbing:gym"~"yes|true|1"](area.searchArea);
);
out center tags;
`

// Connector fetches from one Overpass endpoint.
type Connector struct {
	endpoint string
	fetch    *fetch.Client
}

// Option configures a Connector.
type Option func(*Connector)

// WithEndpoint overrides the Overpass interpreter URL.
func WithEndpoint(u string) Option {
	return func(c *Connector) { c.endpoint = u }
}

// WithFetcher replaces the underlying fetcher.
func WithFetcher(f *fetch.Client) Option {
	return func(c *Connector) { c.fetch = f }
}

// New creates an Overpass connector. Overpass slots fill quickly, so the
// limiter stays under 1 rps and the long timeout tolerates the heavyweight
// country-wide query.
func New(opts ...Option) *Connector {
	c := &Connector{
		endpoint: defaultEndpoint,
		fetch: fetch.New("overpass",
			fetch.WithMaxRetries(6),
			fetch.WithBackoffCap(60*time.Second),
			fetch.WithLimiter(ratelimit.New(0.9, 2)),
			fetch.WithHTTPClient(&http.Client{Timeout: 300 * time.Second}),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements sources.Connector.
func (c *Connector) Name() gyms.Source { return gyms.SourceOSMOverpass }

type response struct {
	Elements []element `json:"elements"`
}

type element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *center           `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Fetch runs the one-shot query and normalizes named elements. Unnamed
// elements are dropped; they cannot be matched or validated.
func (c *Connector) Fetch(ctx context.Context) ([]gyms.Gym, error) {
	body := strings.NewReader("data=" + url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := c.fetch.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var decoded response
	if err := fetch.DecodeJSON(resp, &decoded); err != nil {
		return nil, err
	}

	records := make([]gyms.Gym, 0, len(decoded.Elements))
	for _, el := range decoded.Elements {
		if el.Tags["name"] == "" {
			continue
		}
		records = append(records, normalize(el))
	}
	logging.Ctx(ctx).Info().
		Int("elements", len(decoded.Elements)).
		Int("named", len(records)).
		Msg("overpass fetch complete")
	return records, nil
}

func normalize(el element) gyms.Gym {
	now := utc.Now()
	g := gyms.Gym{
		Name:        el.Tags["name"],
		HouseNumber: el.Tags["addr:housenumber"],
		Street:      el.Tags["addr:street"],
		City:        el.Tags["addr:city"],
		State:       el.Tags["addr:state"],
		Postcode:    el.Tags["addr:postcode"],
		Country:     firstTag(el.Tags, "addr:country"),
		Phone:       firstTag(el.Tags, "phone", "contact:phone"),
		Website:     firstTag(el.Tags, "website", "contact:website"),
		Hours:       firstTag(el.Tags, "opening_hours", "opening_hours:covid19"),
		IsIndoor:    indoor(el.Tags["indoor"]),
		Source:      gyms.SourceOSMOverpass,
		SourceID:    el.Type + ":" + strconv.FormatInt(el.ID, 10),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if g.Country == "" {
		g.Country = "US"
	}

	switch {
	case el.Lat != nil && el.Lon != nil:
		g.SetCoordinates(*el.Lat, *el.Lon)
	case el.Center != nil:
		g.SetCoordinates(el.Center.Lat, el.Center.Lon)
	}
	return g
}

// firstTag returns the first non-empty value among the given tag keys.
func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}

func indoor(v string) bool {
	switch strings.ToLower(v) {
	case "yes", "true", "1":
		return true
	}
	return false
}
