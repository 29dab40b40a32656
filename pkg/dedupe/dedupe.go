// Package dedupe collapses near-duplicate gym records from heterogeneous
// sources into one record per real-world gym.
//
// The engine is a single-pass, online accumulator: each incoming record is
// tested against every already accepted output record, so membership and
// which record absorbs attributes is order-dependent. The trade buys O(n·k)
// instead of full pairwise clustering, which holds up at the working scale
// of a few thousand records.
package dedupe

import (
	"github.com/crakt/gymmap/pkg/geo"
	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/logging"
	"github.com/crakt/gymmap/pkg/similarity"
)

// DefaultProximityKm is the spatial merge radius. Empirically chosen;
// preserved as a configurable default rather than re-derived.
const DefaultProximityKm = 0.25

// Merger deduplicates gym records. Not safe for concurrent use; a Merger
// assumes exclusive ownership of its working slice for the run.
type Merger struct {
	// ProximityKm is the great-circle radius within which two records
	// with compatible names are considered the same gym.
	ProximityKm float64
}

// New returns a Merger with the default proximity threshold.
func New() *Merger {
	return &Merger{ProximityKm: DefaultProximityKm}
}

// key is the normalized exact-match identity of a named record.
type key struct {
	name  string
	city  string
	state string
}

// Merge deduplicates records, in order:
//
//  1. A normalized (name, city, state) triple already accepted drops the
//     incoming record outright; the first-seen record wins as-is.
//  2. When both sides carry coordinates, records within ProximityKm with
//     substring-compatible names merge.
//  3. Without coordinates, substring-compatible names plus matching
//     normalized city and state merge.
//
// Merging only fills gaps: a field already populated on the accepted
// record is never overwritten. Records matching nothing become new
// outputs.
func (m *Merger) Merge(records []gyms.Gym) []gyms.Gym {
	out := make([]gyms.Gym, 0, len(records))
	seen := make(map[key]struct{})

	for _, r := range records {
		k := recordKey(&r)
		if k.name != "" {
			if _, dup := seen[k]; dup {
				continue
			}
		}

		if i := m.match(&r, out); i >= 0 {
			absorb(&out[i], &r)
			continue
		}

		out = append(out, r)
		if k.name != "" {
			seen[k] = struct{}{}
		}
	}

	if dropped := len(records) - len(out); dropped > 0 {
		logging.Debug().
			Int("input", len(records)).
			Int("output", len(out)).
			Int("collapsed", dropped).
			Msg("Deduplicated records")
	}
	return out
}

// match returns the index of the first accepted record r merges into,
// or -1.
func (m *Merger) match(r *gyms.Gym, out []gyms.Gym) int {
	for i := range out {
		e := &out[i]
		if !similarity.NamesCompatible(r.Name, e.Name) {
			continue
		}

		if r.HasCoordinates() && e.HasCoordinates() {
			dist := geo.HaversineKm(*r.Latitude, *r.Longitude, *e.Latitude, *e.Longitude)
			if dist <= m.ProximityKm {
				return i
			}
			continue
		}

		if similarity.Norm(r.City) == similarity.Norm(e.City) &&
			similarity.Norm(r.State) == similarity.Norm(e.State) {
			return i
		}
	}
	return -1
}

// absorb copies every field of r that dst is missing. Populated fields on
// dst keep their first-seen value.
func absorb(dst, r *gyms.Gym) {
	fill(&dst.Name, r.Name)
	fill(&dst.HouseNumber, r.HouseNumber)
	fill(&dst.Street, r.Street)
	fill(&dst.City, r.City)
	fill(&dst.State, r.State)
	fill(&dst.Postcode, r.Postcode)
	fill(&dst.Country, r.Country)
	fill(&dst.Phone, r.Phone)
	fill(&dst.Website, r.Website)
	fill(&dst.Hours, r.Hours)
	if !dst.HasCoordinates() && r.HasCoordinates() {
		dst.SetCoordinates(*r.Latitude, *r.Longitude)
	}
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func recordKey(g *gyms.Gym) key {
	return key{
		name:  similarity.Norm(g.Name),
		city:  similarity.Norm(g.City),
		state: similarity.Norm(g.State),
	}
}
