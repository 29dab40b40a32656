package sport80

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crakt/gymmap/internal/fetch"
	"github.com/crakt/gymmap/pkg/gyms"
)

func newTestConnector(t *testing.T, handler http.Handler) *Connector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(
		WithBaseURL(server.URL),
		WithFetcher(fetch.New("sport80",
			fetch.WithMaxRetries(0),
			fetch.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		)),
	)
}

func TestFetchJSONEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/public/widget/1/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"clubs": [
				{
					"name": "Movement Boulder",
					"address": {"line1": "2845 Valmont Rd", "city": "Boulder", "state": "CO", "postcode": "80301"},
					"website": "https://movementgyms.com",
					"phone": "303-443-1505"
				},
				{
					"club_name": "Stone Summit",
					"address": "3701 Presidential Pkwy, Atlanta, GA 30340",
					"url": "https://stonesummitclimbing.com"
				},
				{"name": "No Address Club"}
			]
		}`))
	})

	connector := newTestConnector(t, mux)
	records, err := connector.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2, "items without an address are skipped")

	movement := records[0]
	assert.Equal(t, "Movement Boulder", movement.Name)
	assert.Equal(t, "2845", movement.HouseNumber)
	assert.Equal(t, "Valmont Rd, Boulder, CO 80301", movement.Street, "street keeps the tail the way the house number split leaves it")
	assert.Equal(t, "Boulder", movement.City)
	assert.Equal(t, "CO", movement.State)
	assert.Equal(t, "80301", movement.Postcode)
	assert.Equal(t, "303-443-1505", movement.Phone)
	assert.Equal(t, "https://movementgyms.com", movement.Website)
	assert.True(t, movement.IsIndoor)
	assert.Equal(t, gyms.SourceUSACSport80, movement.Source)
	assert.Equal(t, "USAC::Movement Boulder", movement.SourceID)
	assert.False(t, movement.HasCoordinates(), "directory carries no coordinates")

	stone := records[1]
	assert.Equal(t, "Stone Summit", stone.Name)
	assert.Equal(t, "Atlanta", stone.City)
	assert.Equal(t, "GA", stone.State)
	assert.Equal(t, "30340", stone.Postcode)
	assert.Equal(t, "https://stonesummitclimbing.com", stone.Website)
}

func TestFetchTopLevelListShape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/public/widget/1/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"title": "Brooklyn Boulders", "address1": "575 Degraw St", "city": "Brooklyn", "state": "NY", "postcode": "11217"}]`))
	})

	connector := newTestConnector(t, mux)
	records, err := connector.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Brooklyn Boulders", records[0].Name)
	assert.Equal(t, "NY", records[0].State)
	assert.Equal(t, "11217", records[0].Postcode)
}

func TestFetchProbesUntilJSONFound(t *testing.T) {
	var paths []string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/public/widgets/1", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"locations": [{"name": "High Point", "address": "123 Main St, Chattanooga, TN 37402"}]}`))
	})

	connector := newTestConnector(t, mux)
	records, err := connector.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "High Point", records[0].Name)
	assert.Equal(t, []string{
		"/public/widget/1/data",
		"/public/widget/1.json",
		"/api/public/widgets/1",
	}, paths, "probing stops at the first working endpoint")
}

func TestFetchHTMLFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/public/widget/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
			<div class="card"><strong>Sender One</strong><p>1441 S Rockefeller Ave, Ontario, CA 91761</p></div>
			<div class="card"><strong>Sender One</strong><p>1441 S Rockefeller Ave, Ontario, CA 91761</p></div>
			<a href="https://senderoneclimbing.com">Website</a>
		</body></html>`))
	})
	// JSON probes 404 and fall through to the widget page.
	connector := newTestConnector(t, mux)

	records, err := connector.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1, "duplicate cards collapse on name and postcode")
	assert.Equal(t, "Sender One", records[0].Name)
	assert.Equal(t, "CA", records[0].State)
	assert.Equal(t, "91761", records[0].Postcode)
	assert.Equal(t, "https://senderoneclimbing.com", records[0].Website)
}

func TestFetchUnreachableReturnsEmpty(t *testing.T) {
	connector := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	records, err := connector.Fetch(context.Background())
	require.NoError(t, err, "an unreachable directory is tolerated")
	assert.Empty(t, records)
}

func TestParseCityStateZip(t *testing.T) {
	g := normalize("Test Gym", "500 E Pike St, Seattle, WA 98122-1234", "", "")
	assert.Equal(t, "Seattle", g.City)
	assert.Equal(t, "WA", g.State)
	assert.Equal(t, "98122-1234", g.Postcode)
	assert.Equal(t, "500", g.HouseNumber)

	g = normalize("Test Gym", "Somewhere without zip", "", "")
	assert.Empty(t, g.City)
	assert.Empty(t, g.State)
	assert.Empty(t, g.Postcode)
}
