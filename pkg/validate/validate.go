// Package validate compares stored gym records against a freshly fetched
// external search result and classifies the drift: closures, moves, and
// contact-detail changes.
package validate

import (
	"context"
	"fmt"

	"github.com/agentstation/utc"

	"github.com/crakt/gymmap/pkg/geo"
	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/logging"
	"github.com/crakt/gymmap/pkg/similarity"
)

// Checker validates one gym against an external search service. Check is
// expected to absorb provider failures into the outcome rather than aborting
// a batch: every gym yields exactly one outcome.
type Checker interface {
	Check(ctx context.Context, gym *gyms.Gym) gyms.Outcome
}

// Detail is the full attribute set a search provider returns for one
// located candidate.
type Detail struct {
	gyms.Found
	PermanentlyClosed bool
}

// SearchClient is the two-call shape of a detailed search provider:
// locate a candidate by text query, then fetch its full attributes.
type SearchClient interface {
	// Locate returns the candidate identifier for the gym, or "" when the
	// search produced zero results.
	Locate(ctx context.Context, gym *gyms.Gym) (string, error)

	// Details fetches the full attribute set for a located candidate.
	Details(ctx context.Context, id string) (*Detail, error)

	// Provider returns the provider tag recorded on outcomes.
	Provider() string
}

// Thresholds below are empirically chosen and kept as configuration
// defaults rather than re-derived.
const (
	// DefaultSimilarityFloor is the word-overlap score under which a name
	// or address difference is recorded as a change.
	DefaultSimilarityFloor = 0.7

	// DefaultConfidenceFloor is the confidence under which a compared
	// record is classified not_found.
	DefaultConfidenceFloor = 0.5

	// DefaultMovedKm is the coordinate delta treated as a move.
	DefaultMovedKm = 0.5

	// DefaultRefinedKm is the coordinate delta treated as a precision
	// refinement rather than a move.
	DefaultRefinedKm = 0.01
)

// Validator drives the locate → detail → compare state machine for one
// gym at a time through a SearchClient.
type Validator struct {
	client SearchClient

	SimilarityFloor float64
	ConfidenceFloor float64
	MovedKm         float64
	RefinedKm       float64
}

// New creates a Validator with default thresholds.
func New(client SearchClient) *Validator {
	return &Validator{
		client:          client,
		SimilarityFloor: DefaultSimilarityFloor,
		ConfidenceFloor: DefaultConfidenceFloor,
		MovedKm:         DefaultMovedKm,
		RefinedKm:       DefaultRefinedKm,
	}
}

// Check validates one gym. It never returns an error: provider failures
// become an error-status outcome so a batch always produces one outcome
// per gym.
func (v *Validator) Check(ctx context.Context, gym *gyms.Gym) gyms.Outcome {
	outcome := gyms.Outcome{
		GymID:     gym.ID,
		Provider:  v.client.Provider(),
		CheckedAt: utc.Now(),
	}

	id, err := v.client.Locate(ctx, gym)
	if err != nil {
		// A failed search is indistinguishable from an absent listing;
		// log it and classify as not found, as detail-level errors are
		// the ones worth surfacing per record.
		logging.Ctx(ctx).Warn().
			Int64("gym_id", gym.ID).
			Str("gym", gym.Name).
			Err(err).
			Msg("Text search failed")
		outcome.Status = gyms.StatusNotFound
		return outcome
	}
	if id == "" {
		outcome.Status = gyms.StatusNotFound
		return outcome
	}

	detail, err := v.client.Details(ctx, id)
	if err != nil {
		outcome.Status = gyms.StatusError
		outcome.ErrorMessage = err.Error()
		return outcome
	}

	v.compare(gym, detail, &outcome)
	return outcome
}

// compare fills status, confidence, found snapshot, and change notes.
func (v *Validator) compare(gym *gyms.Gym, detail *Detail, outcome *gyms.Outcome) {
	outcome.Found = detail.Found

	if detail.PermanentlyClosed {
		// No field comparison for a permanently closed listing.
		outcome.Status = gyms.StatusClosed
		outcome.Confidence = 1.0
		outcome.PermanentlyClosed = true
		return
	}

	var changes []string
	confidence := 0.0

	if detail.Name != "" {
		sim := similarity.Score(gym.Name, detail.Name)
		confidence = max(confidence, sim)
		if sim < v.SimilarityFloor {
			changes = append(changes, fmt.Sprintf("Name mismatch: '%s' vs '%s'", gym.Name, detail.Name))
		}
	}

	stored := gym.FullAddress()
	switch {
	case detail.Address != "" && stored != "":
		sim := similarity.Score(stored, detail.Address)
		confidence = max(confidence, sim)
		if sim < v.SimilarityFloor {
			changes = append(changes, fmt.Sprintf("Address changed: '%s' vs '%s'", stored, detail.Address))
		}
	case detail.Address != "" && stored == "":
		changes = append(changes, "Address added: "+detail.Address)
	}

	// Coordinate deltas never contribute to confidence; the external
	// source is trusted as the more accurate one.
	if detail.HasCoordinates() {
		if gym.HasCoordinates() {
			dist := geo.HaversineKm(*gym.Latitude, *gym.Longitude, *detail.Latitude, *detail.Longitude)
			switch {
			case dist > v.MovedKm:
				changes = append(changes, fmt.Sprintf("Coordinates updated (moved %.2fkm)", dist))
			case dist > v.RefinedKm:
				changes = append(changes, fmt.Sprintf("Coordinates refined (%.0fm more precise)", dist*1000))
			}
		} else {
			changes = append(changes, fmt.Sprintf("Coordinates added: %.6f, %.6f", *detail.Latitude, *detail.Longitude))
		}
	}

	switch {
	case detail.Phone != "" && gym.Phone != "":
		if similarity.NormalizePhone(detail.Phone) != similarity.NormalizePhone(gym.Phone) {
			changes = append(changes, fmt.Sprintf("Phone changed: %s -> %s", gym.Phone, detail.Phone))
		}
	case detail.Phone != "" && gym.Phone == "":
		changes = append(changes, "Phone added: "+detail.Phone)
	}

	switch {
	case detail.Website != "" && gym.Website != "":
		if similarity.NormalizeURL(detail.Website) != similarity.NormalizeURL(gym.Website) {
			changes = append(changes, fmt.Sprintf("Website changed: %s -> %s", gym.Website, detail.Website))
		}
	case detail.Website != "" && gym.Website == "":
		changes = append(changes, "Website added: "+detail.Website)
	}

	// Hours are compared verbatim; provider hour text is not normalized.
	if detail.Hours != "" {
		if gym.Hours == "" {
			changes = append(changes, "Hours added")
		} else if gym.Hours != detail.Hours {
			changes = append(changes, "Hours updated")
		}
	}

	outcome.Confidence = confidence
	outcome.Changes = changes
	switch {
	case confidence < v.ConfidenceFloor:
		outcome.Status = gyms.StatusNotFound
	case len(changes) > 0:
		outcome.Status = gyms.StatusUpdated
	default:
		outcome.Status = gyms.StatusValid
	}
}
