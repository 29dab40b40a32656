// Package reconcile decides, per field, whether validation outcomes
// overwrite the stored record. The policy is intentionally asymmetric: the
// validator's search source is trusted over the original ingestion sources,
// so its data silently replaces stored values once the confidence floor is
// met. The append-only outcome log is the only audit trail.
package reconcile

import (
	"context"
	"fmt"

	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/logging"
)

// FieldMap carries the column updates for one gym.
type FieldMap map[string]any

// Store is the slice of persistence the reconciler writes through.
type Store interface {
	UpdateFields(ctx context.Context, gymID int64, fields FieldMap) error
	SetClosed(ctx context.Context, gymID int64) error
}

// Confidence tiers of the overwrite policy. Empirical; kept as defaults.
const (
	// DefaultApplyFloor is the minimum confidence for any field write.
	DefaultApplyFloor = 0.6

	// DefaultNameFloor is the minimum confidence for a name overwrite.
	DefaultNameFloor = 0.8
)

// Reconciler applies a batch of validation outcomes to the store. Not safe
// for concurrent use over the same record set.
type Reconciler struct {
	store Store

	// DryRun logs the plan without writing.
	DryRun bool

	ApplyFloor float64
	NameFloor  float64
}

// Summary reports what a reconciliation pass did.
type Summary struct {
	Updated int
	Closed  int
	Skipped int
}

// New creates a Reconciler with default confidence tiers.
func New(store Store) *Reconciler {
	return &Reconciler{
		store:      store,
		ApplyFloor: DefaultApplyFloor,
		NameFloor:  DefaultNameFloor,
	}
}

// Apply walks the outcomes against the current records. Skipped outcomes
// (errors, low-confidence not_found) are logged, never applied. Closed
// outcomes record a persistent closure marker without touching fields.
func (r *Reconciler) Apply(ctx context.Context, outcomes []gyms.Outcome, current map[int64]*gyms.Gym) (*Summary, error) {
	log := logging.Ctx(ctx)
	summary := &Summary{}

	for i := range outcomes {
		o := &outcomes[i]

		if !o.Applicable() {
			summary.Skipped++
			log.Debug().
				Int64("gym_id", o.GymID).
				Str("status", string(o.Status)).
				Float64("confidence", o.Confidence).
				Msg("Outcome skipped")
			continue
		}

		if o.Status == gyms.StatusClosed && o.PermanentlyClosed {
			summary.Closed++
			if r.DryRun {
				log.Info().Int64("gym_id", o.GymID).Str("found_name", o.Found.Name).
					Msg("[dry run] Would mark permanently closed")
				continue
			}
			if err := r.store.SetClosed(ctx, o.GymID); err != nil {
				return summary, fmt.Errorf("mark gym %d closed: %w", o.GymID, err)
			}
			continue
		}

		if o.Confidence < r.ApplyFloor {
			summary.Skipped++
			continue
		}

		gym, ok := current[o.GymID]
		if !ok {
			summary.Skipped++
			log.Warn().Int64("gym_id", o.GymID).Msg("Outcome references unknown gym")
			continue
		}

		fields, reasons := r.plan(o, gym)
		if len(fields) == 0 {
			continue
		}

		if r.DryRun {
			log.Info().Int64("gym_id", o.GymID).Strs("updates", reasons).
				Msg("[dry run] Would update")
			continue
		}
		if err := r.store.UpdateFields(ctx, o.GymID, fields); err != nil {
			return summary, fmt.Errorf("update gym %d: %w", o.GymID, err)
		}
		summary.Updated++
		log.Info().Int64("gym_id", o.GymID).Strs("updates", reasons).Msg("Record updated")
	}

	return summary, nil
}

// plan computes the field writes for one applicable outcome.
func (r *Reconciler) plan(o *gyms.Outcome, gym *gyms.Gym) (FieldMap, []string) {
	fields := FieldMap{}
	var reasons []string

	// Names only move on high confidence; they are the fuzzy-match key.
	if o.Found.Name != "" && o.Confidence > r.NameFloor {
		if gym.Name == "" || gym.Name != o.Found.Name {
			fields["name"] = o.Found.Name
			reasons = append(reasons, fmt.Sprintf("name: '%s' -> '%s'", gym.Name, o.Found.Name))
		}
	}

	// Search-source coordinates are trusted unconditionally.
	if o.Found.HasCoordinates() {
		fields["latitude"] = *o.Found.Latitude
		fields["longitude"] = *o.Found.Longitude
		if !gym.HasCoordinates() || *gym.Latitude != *o.Found.Latitude || *gym.Longitude != *o.Found.Longitude {
			reasons = append(reasons, fmt.Sprintf("coordinates -> (%.6f, %.6f)", *o.Found.Latitude, *o.Found.Longitude))
		}
	}

	if o.Found.Phone != "" && gym.Phone != o.Found.Phone {
		fields["phone"] = o.Found.Phone
		if gym.Phone == "" {
			reasons = append(reasons, "phone added: "+o.Found.Phone)
		} else {
			reasons = append(reasons, fmt.Sprintf("phone: %s -> %s", gym.Phone, o.Found.Phone))
		}
	}

	if o.Found.Website != "" && gym.Website != o.Found.Website {
		fields["website"] = o.Found.Website
		if gym.Website == "" {
			reasons = append(reasons, "website added: "+o.Found.Website)
		} else {
			reasons = append(reasons, fmt.Sprintf("website: %s -> %s", gym.Website, o.Found.Website))
		}
	}

	if o.Found.Hours != "" && gym.Hours != o.Found.Hours {
		fields["hours"] = o.Found.Hours
		if gym.Hours == "" {
			reasons = append(reasons, "hours added")
		} else {
			reasons = append(reasons, "hours updated")
		}
	}

	return fields, reasons
}
