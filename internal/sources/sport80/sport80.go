// Package sport80 scrapes the USA Climbing partner gym directory, which is
// hosted on the Sport:80 platform. The widget's data feed is not a stable
// public API, so the connector probes a few common tenant endpoint patterns
// for JSON and falls back to scraping server-rendered widget HTML. Total
// failure yields an empty result rather than an error so the rest of the
// collection run survives.
package sport80

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/agentstation/utc"

	"github.com/crakt/gymmap/internal/fetch"
	"github.com/crakt/gymmap/internal/ratelimit"
	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/logging"
)

const defaultBaseURL = "https://usaclimbing.sport80.com"

// Endpoint patterns vary by Sport:80 tenant and deployment. Probed in order.
var jsonPaths = []string{
	"/public/widget/1/data",
	"/public/widget/1.json",
	"/api/public/widgets/1",
	"/api/public/widgets/1/locations",
}

const widgetPath = "/public/widget/1"

var (
	cityStateZipRe = regexp.MustCompile(`,\s*([A-Z]{2})\s+(\d{5}(?:-\d{4})?)`)
	houseStreetRe  = regexp.MustCompile(`^\s*(\d+[A-Za-z\-]*)\s+(.*)`)
	phoneRe        = regexp.MustCompile(`(\+?1[\s\-.]?)?\(?\d{3}\)?[\s\-.]?\d{3}[\s\-.]?\d{4}`)
	// Loose card shape: a heading followed by an address-like run ending in a zip.
	cardRe    = regexp.MustCompile(`(?is)>([^<]{2,120})</(?:h\d|strong|span)>.*?([\w.\-#\s,]{10,120}\b\d{5}(?:-\d{4})?\b)`)
	websiteRe = regexp.MustCompile(`(?i)href="(https?://[^"]+)"[^>]*>\s*(?:Website|Visit|Learn More)`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Connector fetches the USA Climbing directory.
type Connector struct {
	baseURL string
	fetch   *fetch.Client
}

// Option configures a Connector.
type Option func(*Connector)

// WithBaseURL overrides the Sport:80 tenant URL.
func WithBaseURL(u string) Option {
	return func(c *Connector) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithFetcher replaces the underlying fetcher.
func WithFetcher(f *fetch.Client) Option {
	return func(c *Connector) { c.fetch = f }
}

// New creates a Sport:80 connector at 1 rps.
func New(opts ...Option) *Connector {
	c := &Connector{
		baseURL: defaultBaseURL,
		fetch: fetch.New("sport80",
			fetch.WithMaxRetries(2),
			fetch.WithBackoffCap(30*time.Second),
			fetch.WithLimiter(ratelimit.New(1.0, 2)),
			fetch.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements sources.Connector.
func (c *Connector) Name() gyms.Source { return gyms.SourceUSACSport80 }

// Fetch probes the JSON endpoint patterns, then scrapes the widget page.
// Individual probe failures are expected; only records found on a working
// path are returned, and a fully unreachable directory returns nil, nil.
func (c *Connector) Fetch(ctx context.Context) ([]gyms.Gym, error) {
	log := logging.Ctx(ctx)

	for _, path := range jsonPaths {
		records, err := c.fetchJSON(ctx, c.baseURL+path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("sport80 probe failed")
			continue
		}
		if len(records) > 0 {
			log.Info().Int("count", len(records)).Str("path", path).Msg("sport80 json endpoint")
			return records, nil
		}
	}

	records, err := c.scrapeWidget(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("sport80 directory not reachable, continuing without it")
		return nil, nil
	}
	log.Info().Int("count", len(records)).Msg("sport80 html fallback")
	return records, nil
}

func (c *Connector) fetchJSON(ctx context.Context, u string) ([]gyms.Gym, error) {
	header := http.Header{"Accept": {"application/json, */*"}}
	resp, err := c.fetch.Get(ctx, u, header)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := fetch.DecodeJSON(resp, &decoded); err != nil {
		return nil, err
	}

	var out []gyms.Gym
	for _, it := range extractItems(decoded) {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name := firstString(item, "name", "club_name", "title")
		address := itemAddress(item)
		if name == "" || address == "" {
			continue
		}
		out = append(out, normalize(name, address,
			firstString(item, "website", "url", "link"),
			firstString(item, "phone", "telephone")))
	}
	return out, nil
}

// extractItems handles the common feed shapes: a bare list, or an object
// with the list under one of a few conventional keys.
func extractItems(decoded any) []any {
	switch v := decoded.(type) {
	case []any:
		return v
	case map[string]any:
		for _, key := range []string{"clubs", "gyms", "locations", "data", "results"} {
			if items, ok := v[key].([]any); ok {
				return items
			}
		}
	}
	return nil
}

func itemAddress(item map[string]any) string {
	switch addr := item["address"].(type) {
	case string:
		return addr
	case map[string]any:
		return composeAddress(addr, "line1", "line2", "city")
	}
	return composeAddress(item, "address1", "address2", "city")
}

// composeAddress joins the line keys with commas and appends "ST 12345"
// from the state and postcode fields, so the result parses the same way a
// server-rendered address does.
func composeAddress(m map[string]any, lineKeys ...string) string {
	var parts []string
	for _, k := range lineKeys {
		if s, ok := m[k].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	state, _ := m["state"].(string)
	postcode, _ := m["postcode"].(string)
	switch {
	case state != "" && postcode != "":
		parts = append(parts, state+" "+postcode)
	case state != "":
		parts = append(parts, state)
	case postcode != "":
		parts = append(parts, postcode)
	}
	return strings.Join(parts, ", ")
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (c *Connector) scrapeWidget(ctx context.Context) ([]gyms.Gym, error) {
	resp, err := c.fetch.Get(ctx, c.baseURL+widgetPath, nil)
	if err != nil {
		return nil, err
	}
	page, err := fetch.ReadAll(resp)
	if err != nil {
		return nil, err
	}
	html := string(page)

	var phone string
	if m := phoneRe.FindString(html); m != "" {
		phone = m
	}
	var website string
	if m := websiteRe.FindStringSubmatch(html); m != nil {
		website = m[1]
	}

	seen := make(map[[2]string]bool)
	var out []gyms.Gym
	for _, m := range cardRe.FindAllStringSubmatch(html, -1) {
		name := strings.Trim(spaceRe.ReplaceAllString(m[1], " "), " ·\n\r\t")
		addr := strings.TrimSpace(spaceRe.ReplaceAllString(m[2], " "))
		if len(name) < 2 || len(addr) < 8 {
			continue
		}
		record := normalize(name, addr, website, phone)
		key := [2]string{record.Name, record.Postcode}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, record)
	}
	return out, nil
}

// normalize parses a "123 Main St, City, ST 12345" style address into
// components. The directory carries no coordinates; those come from other
// sources or validation.
func normalize(name, address, website, phone string) gyms.Gym {
	now := utc.Now()
	g := gyms.Gym{
		Name:      name,
		Country:   "US",
		Phone:     phone,
		Website:   website,
		IsIndoor:  true,
		Source:    gyms.SourceUSACSport80,
		SourceID:  "USAC::" + name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if m := cityStateZipRe.FindStringSubmatchIndex(address); m != nil {
		g.State = address[m[2]:m[3]]
		g.Postcode = address[m[4]:m[5]]
		cityPart := address[:m[0]]
		if i := strings.LastIndex(cityPart, ","); i >= 0 {
			g.City = strings.TrimSpace(cityPart[i+1:])
		} else {
			g.City = strings.TrimSpace(cityPart)
		}
	}

	if m := houseStreetRe.FindStringSubmatch(address); m != nil {
		g.HouseNumber = m[1]
		g.Street = m[2]
	}
	return g
}
