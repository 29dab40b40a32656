// Package gyms defines the canonical climbing gym record and the validation
// outcome types shared across the collection and reconciliation pipelines.
package gyms

import (
	"strings"

	"github.com/agentstation/utc"
)

// Source identifies an upstream data provider.
type Source string

// Known sources.
const (
	SourceOSMOverpass Source = "OSM_OVERPASS"
	SourceUSACSport80 Source = "USAC_SPORT80"
)

// Gym is the canonical, deduplicated representation of one real-world
// climbing gym. Identity is the store-assigned ID, not any upstream key;
// (Source, SourceID) is unique per source and drives idempotent upserts.
type Gym struct {
	ID          int64    `json:"id,omitempty"`
	Name        string   `json:"name"`
	HouseNumber string   `json:"houseNumber,omitempty"`
	Street      string   `json:"street,omitempty"`
	City        string   `json:"city,omitempty"`
	State       string   `json:"state,omitempty"`
	Postcode    string   `json:"postcode,omitempty"`
	Country     string   `json:"country,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Website     string   `json:"website,omitempty"`
	Hours       string   `json:"hours,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	IsIndoor    bool     `json:"isIndoor"`
	Source      Source   `json:"source"`
	SourceID    string   `json:"source_id"`
	CreatedAt   utc.Time `json:"createdAt"`
	UpdatedAt   utc.Time `json:"updatedAt"`
}

// HasCoordinates reports whether both latitude and longitude are present.
// Partial coordinates never occur; SetCoordinates is the only writer.
func (g *Gym) HasCoordinates() bool {
	return g.Latitude != nil && g.Longitude != nil
}

// SetCoordinates sets both coordinates atomically.
func (g *Gym) SetCoordinates(lat, lon float64) {
	g.Latitude = &lat
	g.Longitude = &lon
}

// FullAddress joins house number + street, city, state, and postcode with
// commas, omitting absent parts.
func (g *Gym) FullAddress() string {
	var parts []string
	switch {
	case g.HouseNumber != "" && g.Street != "":
		parts = append(parts, g.HouseNumber+" "+g.Street)
	case g.Street != "":
		parts = append(parts, g.Street)
	}
	if g.City != "" {
		parts = append(parts, g.City)
	}
	if g.State != "" {
		parts = append(parts, g.State)
	}
	if g.Postcode != "" {
		parts = append(parts, g.Postcode)
	}
	return strings.Join(parts, ", ")
}
