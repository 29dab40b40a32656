package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentstation/utc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crakt/gymmap/pkg/errors"
	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/reconcile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "gyms.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleGym(sourceID string) gyms.Gym {
	now := utc.Now()
	g := gyms.Gym{
		Name:        "Vertical World",
		HouseNumber: "2123",
		Street:      "W Elmore St",
		City:        "Seattle",
		State:       "WA",
		Postcode:    "98199",
		Country:     "US",
		Phone:       "206-283-4497",
		Website:     "https://verticalworld.com",
		Hours:       "Mo-Fr 06:00-23:00",
		IsIndoor:    true,
		Source:      gyms.SourceOSMOverpass,
		SourceID:    sourceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	g.SetCoordinates(47.6615, -122.3770)
	return g
}

func TestUpsertAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Upsert(ctx, []gyms.Gym{sampleGym("node:1"), sampleGym("node:2")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	g := loaded[0]
	assert.NotZero(t, g.ID)
	assert.Equal(t, "Vertical World", g.Name)
	assert.Equal(t, "Seattle", g.City)
	assert.Equal(t, "WA", g.State)
	assert.Equal(t, gyms.SourceOSMOverpass, g.Source)
	assert.Equal(t, "node:1", g.SourceID)
	assert.True(t, g.IsIndoor)
	require.True(t, g.HasCoordinates())
	assert.InDelta(t, 47.6615, *g.Latitude, 1e-9)
	assert.False(t, g.CreatedAt.IsZero())
}

func TestUpsertIsIdempotentOnSourceID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := sampleGym("node:1")
	_, err := s.Upsert(ctx, []gyms.Gym{first})
	require.NoError(t, err)

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	originalID := loaded[0].ID
	originalCreated := loaded[0].CreatedAt

	refresh := sampleGym("node:1")
	refresh.Phone = "206-555-0000"
	refresh.CreatedAt = utc.Now()
	_, err = s.Upsert(ctx, []gyms.Gym{refresh})
	require.NoError(t, err)

	loaded, err = s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1, "same source_id must not create a second row")
	assert.Equal(t, originalID, loaded[0].ID)
	assert.Equal(t, "206-555-0000", loaded[0].Phone)
	assert.Equal(t, originalCreated.Format("2006-01-02T15:04:05Z"),
		loaded[0].CreatedAt.Format("2006-01-02T15:04:05Z"),
		"createdAt survives refreshes")
}

func TestGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []gyms.Gym{sampleGym("node:1")})
	require.NoError(t, err)

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)

	g, err := s.Get(ctx, loaded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Vertical World", g.Name)

	_, err = s.Get(ctx, 9999)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestAppendOutcomes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []gyms.Gym{sampleGym("node:1")})
	require.NoError(t, err)
	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	gymID := loaded[0].ID

	runID := uuid.New()
	outcome := gyms.Outcome{
		GymID:      gymID,
		RunID:      runID,
		Status:     gyms.StatusUpdated,
		Confidence: 0.85,
		Found: gyms.Found{
			Name:    "Vertical World Seattle",
			Phone:   "206-283-4497",
			Website: "https://verticalworld.com",
		},
		Changes:   []string{"Phone added: 206-283-4497"},
		Provider:  "google_places",
		CheckedAt: utc.Now(),
	}
	require.NoError(t, s.AppendOutcomes(ctx, []gyms.Outcome{outcome}))
	require.NoError(t, s.AppendOutcomes(ctx, []gyms.Outcome{outcome}))

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM validation_results WHERE gym_id = ? AND run_id = ?`,
		gymID, runID.String()).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "outcome history is append-only")
}

func TestUpdateFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []gyms.Gym{sampleGym("node:1")})
	require.NoError(t, err)
	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	gymID := loaded[0].ID

	err = s.UpdateFields(ctx, gymID, reconcile.FieldMap{
		"phone":     "206-555-1234",
		"latitude":  47.6620,
		"longitude": -122.3765,
	})
	require.NoError(t, err)

	g, err := s.Get(ctx, gymID)
	require.NoError(t, err)
	assert.Equal(t, "206-555-1234", g.Phone)
	assert.InDelta(t, 47.6620, *g.Latitude, 1e-9)
	assert.InDelta(t, -122.3765, *g.Longitude, 1e-9)
	assert.Equal(t, "Vertical World", g.Name, "untouched fields survive")
}

func TestUpdateFieldsRejectsUnknownColumn(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateFields(context.Background(), 1, reconcile.FieldMap{"source_id": "evil"})
	require.Error(t, err)
}

func TestUpdateFieldsMissingGym(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateFields(context.Background(), 42, reconcile.FieldMap{"phone": "x"})
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSetClosed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []gyms.Gym{sampleGym("node:1")})
	require.NoError(t, err)
	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	gymID := loaded[0].ID

	require.NoError(t, s.SetClosed(ctx, gymID))
	require.NoError(t, s.SetClosed(ctx, gymID), "marking twice is fine")

	ids, err := s.ClosedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{gymID}, ids)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "closed gyms stay in the catalog")
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := sampleGym("node:1")
	b := sampleGym("USAC::Stone Summit")
	b.Name = "Stone Summit"
	b.Source = gyms.SourceUSACSport80
	b.State = "GA"
	b.Phone = ""
	b.Latitude = nil
	b.Longitude = nil
	_, err := s.Upsert(ctx, []gyms.Gym{a, b})
	require.NoError(t, err)

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetClosed(ctx, loaded[1].ID))

	require.NoError(t, s.AppendOutcomes(ctx, []gyms.Outcome{{
		GymID:     loaded[0].ID,
		RunID:     uuid.New(),
		Status:    gyms.StatusValid,
		CheckedAt: utc.Now(),
	}}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.BySource["OSM_OVERPASS"])
	assert.Equal(t, 1, stats.BySource["USAC_SPORT80"])
	assert.Equal(t, 1, stats.ByState["WA"])
	assert.Equal(t, 1, stats.ByState["GA"])
	assert.Equal(t, 2, stats.Completeness["name"])
	assert.Equal(t, 1, stats.Completeness["phone"])
	assert.Equal(t, 1, stats.Completeness["latitude"])
	assert.Equal(t, 1, stats.Closed)
	assert.NotEmpty(t, stats.LastRun)
	assert.Equal(t, 1, stats.LastStatuses["valid"])
}
