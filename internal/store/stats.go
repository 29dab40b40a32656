package store

import (
	"context"
	"database/sql"
)

// Stats summarizes catalog size, provenance, field completeness, and the
// most recent validation run.
type Stats struct {
	Total        int            `json:"total"`
	BySource     map[string]int `json:"by_source"`
	ByState      map[string]int `json:"by_state"`
	Completeness map[string]int `json:"completeness"`
	Closed       int            `json:"closed"`
	LastRun      string         `json:"last_run,omitempty"`
	LastStatuses map[string]int `json:"last_statuses,omitempty"`
}

// Fields counted for completeness. Coordinates count as one field; partial
// coordinates never occur.
var completenessColumns = []string{
	"name", "street", "city", "state", "postcode",
	"phone", "website", "latitude", "hours",
}

// Stats computes catalog statistics in one pass of small queries.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		BySource:     map[string]int{},
		ByState:      map[string]int{},
		Completeness: map[string]int{},
		LastStatuses: map[string]int{},
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gyms`).Scan(&stats.Total); err != nil {
		return nil, err
	}

	if err := s.countGroups(ctx,
		`SELECT source, COUNT(*) FROM gyms GROUP BY source`, stats.BySource); err != nil {
		return nil, err
	}
	if err := s.countGroups(ctx,
		`SELECT state, COUNT(*) FROM gyms WHERE state IS NOT NULL AND state != '' GROUP BY state`,
		stats.ByState); err != nil {
		return nil, err
	}

	for _, col := range completenessColumns {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM gyms WHERE `+col+` IS NOT NULL AND `+col+` != ''`).Scan(&n)
		if err != nil {
			return nil, err
		}
		stats.Completeness[col] = n
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM gym_metadata WHERE key = 'permanently_closed' AND value = 'true'`).
		Scan(&stats.Closed)
	if err != nil {
		return nil, err
	}

	var lastRun sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(validation_date) FROM validation_results`).Scan(&lastRun)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		stats.LastRun = lastRun.String
		err = s.countGroups(ctx, `
			SELECT status, COUNT(*) FROM validation_results
			WHERE validation_date = (SELECT MAX(validation_date) FROM validation_results)
			GROUP BY status`, stats.LastStatuses)
		if err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (s *Store) countGroups(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key sql.NullString
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		name := key.String
		if name == "" {
			name = "unknown"
		}
		into[name] += n
	}
	return rows.Err()
}
