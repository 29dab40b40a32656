// Package sources defines the connector contract for upstream gym
// directories. Each connector fetches its provider's raw listing and
// normalizes it into canonical records; merging across providers happens
// downstream.
package sources

import (
	"context"

	"github.com/crakt/gymmap/pkg/gyms"
)

// Connector fetches and normalizes records from one upstream provider.
type Connector interface {
	// Name returns the provider identifier used in logs and records.
	Name() gyms.Source

	// Fetch retrieves all records from the provider. Connectors rate-limit
	// and retry internally; a returned error means the provider is
	// unreachable, not that individual records were malformed.
	Fetch(ctx context.Context) ([]gyms.Gym, error)
}
