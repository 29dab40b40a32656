package gyms

import (
	"github.com/agentstation/utc"
	"github.com/google/uuid"
)

// Status classifies the result of validating one gym against a search
// provider.
type Status string

// Validation statuses.
const (
	StatusValid    Status = "valid"
	StatusUpdated  Status = "updated"
	StatusClosed   Status = "closed"
	StatusMoved    Status = "moved"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// Found is the snapshot of fields returned by a search provider for a
// located gym. Empty strings and nil coordinates mean the provider did not
// return that field.
type Found struct {
	Name      string   `json:"name,omitempty"`
	Address   string   `json:"address,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Website   string   `json:"website,omitempty"`
	Hours     string   `json:"hours,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether the snapshot carries both coordinates.
func (f *Found) HasCoordinates() bool {
	return f.Latitude != nil && f.Longitude != nil
}

// Outcome is the immutable result of one validation pass over one gym.
// Outcomes are persisted as an append-only log, one row per run, so
// history across runs stays queryable.
type Outcome struct {
	GymID             int64     `json:"gym_id"`
	RunID             uuid.UUID `json:"run_id"`
	Status            Status    `json:"status"`
	Confidence        float64   `json:"confidence"`
	Found             Found     `json:"found"`
	PermanentlyClosed bool      `json:"is_permanently_closed,omitempty"`
	Changes           []string  `json:"changes,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	Provider          string    `json:"api_source,omitempty"`
	CheckedAt         utc.Time  `json:"checked_at"`
}

// NotFoundFloor is the minimum confidence a not_found outcome needs
// before the reconciler may act on it. Below the floor the miss is
// logged but treated as provider noise.
const NotFoundFloor = 0.5

// Applicable reports whether the reconciler may act on this outcome at all.
// Error outcomes and low-confidence not_found outcomes are logged but never
// applied.
func (o *Outcome) Applicable() bool {
	if o.Status == StatusError {
		return false
	}
	if o.Status == StatusNotFound && o.Confidence < NotFoundFloor {
		return false
	}
	return true
}
