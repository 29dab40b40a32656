package overpass

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crakt/gymmap/internal/fetch"
	"github.com/crakt/gymmap/pkg/gyms"
)

func newTestConnector(t *testing.T, handler http.HandlerFunc) *Connector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(
		WithEndpoint(server.URL),
		WithFetcher(fetch.New("overpass",
			fetch.WithMaxRetries(0),
			fetch.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		)),
	)
}

const sampleResponse = `{
  "elements": [
    {
      "type": "node",
      "id": 123456,
      "lat": 47.6615,
      "lon": -122.377,
      "tags": {
        "name": "Vertical World",
        "addr:housenumber": "2123",
        "addr:street": "W Elmore St",
        "addr:city": "Seattle",
        "addr:state": "WA",
        "addr:postcode": "98199",
        "contact:phone": "+1 206 283 4497",
        "website": "https://verticalworld.com",
        "opening_hours": "Mo-Fr 06:00-23:00",
        "indoor": "yes",
        "sport": "climbing"
      }
    },
    {
      "type": "way",
      "id": 789,
      "center": {"lat": 40.0150, "lon": -105.2705},
      "tags": {
        "name": "The Spot Bouldering",
        "addr:city": "Boulder",
        "addr:state": "CO",
        "sport": "climbing"
      }
    },
    {
      "type": "node",
      "id": 555,
      "lat": 30.0,
      "lon": -97.0,
      "tags": {"sport": "climbing", "indoor": "yes"}
    }
  ]
}`

func TestFetchNormalizesElements(t *testing.T) {
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	})

	records, err := connector.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2, "unnamed element should be dropped")

	vw := records[0]
	assert.Equal(t, "Vertical World", vw.Name)
	assert.Equal(t, "2123", vw.HouseNumber)
	assert.Equal(t, "W Elmore St", vw.Street)
	assert.Equal(t, "Seattle", vw.City)
	assert.Equal(t, "WA", vw.State)
	assert.Equal(t, "98199", vw.Postcode)
	assert.Equal(t, "US", vw.Country)
	assert.Equal(t, "+1 206 283 4497", vw.Phone, "contact:phone fills when phone is absent")
	assert.Equal(t, "https://verticalworld.com", vw.Website)
	assert.Equal(t, "Mo-Fr 06:00-23:00", vw.Hours)
	assert.True(t, vw.IsIndoor)
	assert.Equal(t, gyms.SourceOSMOverpass, vw.Source)
	assert.Equal(t, "node:123456", vw.SourceID)
	require.True(t, vw.HasCoordinates())
	assert.InDelta(t, 47.6615, *vw.Latitude, 1e-9)

	spot := records[1]
	assert.Equal(t, "way:789", spot.SourceID)
	require.True(t, spot.HasCoordinates(), "ways fall back to center coordinates")
	assert.InDelta(t, 40.0150, *spot.Latitude, 1e-9)
	assert.InDelta(t, -105.2705, *spot.Longitude, 1e-9)
	assert.False(t, spot.IsIndoor)
}

func TestFetchPostsFormEncodedQuery(t *testing.T) {
	var method, contentType, payload string
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		payload = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"elements":[]}`))
	})

	_, err := connector.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/x-www-form-urlencoded; charset=UTF-8", contentType)
	require.True(t, strings.HasPrefix(payload, "data="))
	decoded, err := url.QueryUnescape(strings.TrimPrefix(payload, "data="))
	require.NoError(t, err)
	assert.Contains(t, decoded, `area["ISO3166-1"="US"]`)
	assert.Contains(t, decoded, "out center tags;")
}

func TestFetchServerError(t *testing.T) {
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	})

	_, err := connector.Fetch(context.Background())
	require.Error(t, err)
}

func TestName(t *testing.T) {
	assert.Equal(t, gyms.SourceOSMOverpass, New().Name())
}
