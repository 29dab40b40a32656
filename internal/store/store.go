// Package store persists gym records and validation history in SQLite.
// The gyms table is the canonical catalog, keyed by an autoincrement ID
// with a unique source_id for idempotent re-collection. Validation outcomes
// land in an append-only validation_results table so history across runs
// stays queryable, and closure markers live in gym_metadata.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentstation/utc"
	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/crakt/gymmap/pkg/errors"
	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/reconcile"
)

const schema = `
CREATE TABLE IF NOT EXISTS gyms (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT,
    houseNumber TEXT,
    street TEXT,
    city TEXT,
    state TEXT,
    postcode TEXT,
    country TEXT,
    phone TEXT,
    website TEXT,
    hours TEXT,
    latitude REAL,
    longitude REAL,
    isIndoor INTEGER,
    source TEXT,
    source_id TEXT UNIQUE,
    createdAt TEXT,
    updatedAt TEXT
);

CREATE TABLE IF NOT EXISTS validation_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    gym_id INTEGER NOT NULL,
    run_id TEXT,
    validation_date TEXT NOT NULL,
    status TEXT NOT NULL,
    confidence REAL,
    found_name TEXT,
    found_address TEXT,
    found_phone TEXT,
    found_website TEXT,
    found_latitude REAL,
    found_longitude REAL,
    found_hours TEXT,
    is_permanently_closed INTEGER,
    changes TEXT,
    error_message TEXT,
    api_source TEXT,
    FOREIGN KEY (gym_id) REFERENCES gyms(id)
);

CREATE TABLE IF NOT EXISTS gym_metadata (
    gym_id INTEGER NOT NULL,
    key TEXT NOT NULL,
    value TEXT,
    PRIMARY KEY (gym_id, key),
    FOREIGN KEY (gym_id) REFERENCES gyms(id)
);
`

// Columns the reconciler is allowed to touch.
var updatableColumns = map[string]bool{
	"name":      true,
	"latitude":  true,
	"longitude": true,
	"phone":     true,
	"website":   true,
	"hours":     true,
}

// Store wraps one SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WrapIO("open", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapIO("migrate", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const upsertSQL = `
INSERT INTO gyms (
  name, houseNumber, street, city, state, postcode, country, phone, website,
  hours, latitude, longitude, isIndoor, source, source_id, createdAt, updatedAt
)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(source_id) DO UPDATE SET
  name=excluded.name,
  houseNumber=excluded.houseNumber,
  street=excluded.street,
  city=excluded.city,
  state=excluded.state,
  postcode=excluded.postcode,
  country=excluded.country,
  phone=excluded.phone,
  website=excluded.website,
  hours=excluded.hours,
  latitude=excluded.latitude,
  longitude=excluded.longitude,
  isIndoor=excluded.isIndoor,
  updatedAt=excluded.updatedAt
`

// Upsert inserts or refreshes records keyed on source_id. Re-collecting the
// same source is idempotent; createdAt survives refreshes.
func (s *Store) Upsert(ctx context.Context, records []gyms.Gym) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	for _, g := range records {
		_, err := stmt.ExecContext(ctx,
			nullStr(g.Name), nullStr(g.HouseNumber), nullStr(g.Street),
			nullStr(g.City), nullStr(g.State), nullStr(g.Postcode),
			nullStr(g.Country), nullStr(g.Phone), nullStr(g.Website),
			nullStr(g.Hours), g.Latitude, g.Longitude, boolInt(g.IsIndoor),
			string(g.Source), g.SourceID,
			g.CreatedAt.Format(time.RFC3339), g.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return 0, fmt.Errorf("upsert %s: %w", g.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

const selectGyms = `
SELECT id, name, houseNumber, street, city, state, postcode, country,
       phone, website, hours, latitude, longitude, isIndoor,
       source, source_id, createdAt, updatedAt
FROM gyms
`

// LoadAll returns every gym ordered by ID.
func (s *Store) LoadAll(ctx context.Context) ([]gyms.Gym, error) {
	rows, err := s.db.QueryContext(ctx, selectGyms+" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []gyms.Gym
	for rows.Next() {
		g, err := scanGym(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Get returns one gym by ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*gyms.Gym, error) {
	rows, err := s.db.QueryContext(ctx, selectGyms+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("gym %d: %w", id, errors.ErrNotFound)
	}
	g, err := scanGym(rows)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanGym(rows *sql.Rows) (gyms.Gym, error) {
	var g gyms.Gym
	var name, houseNumber, street, city, state, postcode, country sql.NullString
	var phone, website, hours, source, sourceID, createdAt, updatedAt sql.NullString
	var lat, lon sql.NullFloat64
	var indoor sql.NullInt64

	err := rows.Scan(&g.ID, &name, &houseNumber, &street, &city, &state,
		&postcode, &country, &phone, &website, &hours, &lat, &lon, &indoor,
		&source, &sourceID, &createdAt, &updatedAt)
	if err != nil {
		return g, err
	}

	g.Name = name.String
	g.HouseNumber = houseNumber.String
	g.Street = street.String
	g.City = city.String
	g.State = state.String
	g.Postcode = postcode.String
	g.Country = country.String
	g.Phone = phone.String
	g.Website = website.String
	g.Hours = hours.String
	g.Source = gyms.Source(source.String)
	g.SourceID = sourceID.String
	if lat.Valid && lon.Valid {
		g.SetCoordinates(lat.Float64, lon.Float64)
	}
	g.IsIndoor = indoor.Int64 != 0
	if createdAt.Valid {
		if t, err := utc.Parse(time.RFC3339, createdAt.String); err == nil {
			g.CreatedAt = t
		}
	}
	if updatedAt.Valid {
		if t, err := utc.Parse(time.RFC3339, updatedAt.String); err == nil {
			g.UpdatedAt = t
		}
	}
	return g, nil
}

const insertOutcomeSQL = `
INSERT INTO validation_results (
  gym_id, run_id, validation_date, status, confidence,
  found_name, found_address, found_phone, found_website,
  found_latitude, found_longitude, found_hours, is_permanently_closed,
  changes, error_message, api_source
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`

// AppendOutcomes records validation outcomes. The table is append-only, one
// row per gym per run.
func (s *Store) AppendOutcomes(ctx context.Context, outcomes []gyms.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertOutcomeSQL)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, o := range outcomes {
		var changes any
		if len(o.Changes) > 0 {
			b, err := json.Marshal(o.Changes)
			if err != nil {
				return err
			}
			changes = string(b)
		}
		_, err := stmt.ExecContext(ctx,
			o.GymID, o.RunID.String(), o.CheckedAt.Format(time.RFC3339),
			string(o.Status), o.Confidence,
			nullStr(o.Found.Name), nullStr(o.Found.Address),
			nullStr(o.Found.Phone), nullStr(o.Found.Website),
			o.Found.Latitude, o.Found.Longitude, nullStr(o.Found.Hours),
			boolInt(o.PermanentlyClosed),
			changes, nullStr(o.ErrorMessage), nullStr(o.Provider),
		)
		if err != nil {
			return fmt.Errorf("record outcome for gym %d: %w", o.GymID, err)
		}
	}
	return tx.Commit()
}

// UpdateFields applies field-level updates to one gym and bumps updatedAt.
// Implements the reconciler's store contract.
func (s *Store) UpdateFields(ctx context.Context, gymID int64, fields reconcile.FieldMap) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableColumns[col] {
			return errors.NewValidationError("field", col, "not an updatable column")
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var set []string
	var args []any
	for _, col := range cols {
		set = append(set, col+" = ?")
		args = append(args, fields[col])
	}
	set = append(set, "updatedAt = ?")
	args = append(args, utc.Now().Format(time.RFC3339), gymID)

	query := "UPDATE gyms SET " + strings.Join(set, ", ") + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("gym %d: %w", gymID, errors.ErrNotFound)
	}
	return nil
}

// SetClosed marks a gym permanently closed in gym_metadata. The record
// itself is kept; closures are metadata, not deletions.
func (s *Store) SetClosed(ctx context.Context, gymID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO gym_metadata (gym_id, key, value) VALUES (?, 'permanently_closed', 'true')`,
		gymID)
	return err
}

// ClosedIDs returns the IDs of gyms marked permanently closed.
func (s *Store) ClosedIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT gym_id FROM gym_metadata WHERE key = 'permanently_closed' AND value = 'true' ORDER BY gym_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
