package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentstation/utc"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crakt/gymmap/pkg/errors"
	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/reconcile"
)

type fakeConnector struct {
	name    gyms.Source
	records []gyms.Gym
	err     error
}

func (f *fakeConnector) Name() gyms.Source { return f.name }

func (f *fakeConnector) Fetch(context.Context) ([]gyms.Gym, error) {
	return f.records, f.err
}

type fakeStore struct {
	upserted []gyms.Gym
	loaded   []gyms.Gym
	outcomes []gyms.Outcome
	updates  map[int64]reconcile.FieldMap
	closed   []int64
}

func newFakeStore(loaded ...gyms.Gym) *fakeStore {
	return &fakeStore{loaded: loaded, updates: map[int64]reconcile.FieldMap{}}
}

func (f *fakeStore) Upsert(_ context.Context, records []gyms.Gym) (int, error) {
	f.upserted = append(f.upserted, records...)
	return len(records), nil
}

func (f *fakeStore) LoadAll(context.Context) ([]gyms.Gym, error) {
	return f.loaded, nil
}

func (f *fakeStore) AppendOutcomes(_ context.Context, outcomes []gyms.Outcome) error {
	f.outcomes = append(f.outcomes, outcomes...)
	return nil
}

func (f *fakeStore) UpdateFields(_ context.Context, gymID int64, fields reconcile.FieldMap) error {
	f.updates[gymID] = fields
	return nil
}

func (f *fakeStore) SetClosed(_ context.Context, gymID int64) error {
	f.closed = append(f.closed, gymID)
	return nil
}

type fakeChecker struct {
	outcomes map[int64]gyms.Outcome
}

func (f *fakeChecker) Check(_ context.Context, gym *gyms.Gym) gyms.Outcome {
	o, ok := f.outcomes[gym.ID]
	if !ok {
		o = gyms.Outcome{GymID: gym.ID, Status: gyms.StatusValid, Confidence: 1.0}
	}
	o.GymID = gym.ID
	o.CheckedAt = utc.Now()
	return o
}

func namedGym(id int64, name, sourceID string) gyms.Gym {
	return gyms.Gym{ID: id, Name: name, City: "Seattle", State: "WA",
		Source: gyms.SourceOSMOverpass, SourceID: sourceID}
}

func TestCollectorMergesAcrossSources(t *testing.T) {
	store := newFakeStore()
	collector := NewCollector(store,
		&fakeConnector{name: gyms.SourceOSMOverpass, records: []gyms.Gym{
			namedGym(0, "Vertical World", "node:1"),
		}},
		&fakeConnector{name: gyms.SourceUSACSport80, records: []gyms.Gym{
			namedGym(0, "Vertical World", "USAC::Vertical World"),
			namedGym(0, "Stone Summit", "USAC::Stone Summit"),
		}},
	)

	result, err := collector.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Fetched[gyms.SourceOSMOverpass])
	assert.Equal(t, 2, result.Fetched[gyms.SourceUSACSport80])
	assert.Empty(t, result.Failed)
	assert.Equal(t, 2, result.Merged, "same name and city collapse across sources")
	assert.Equal(t, 2, result.Stored)
	assert.Len(t, store.upserted, 2)
}

func TestCollectorToleratesOneFailedSource(t *testing.T) {
	store := newFakeStore()
	collector := NewCollector(store,
		&fakeConnector{name: gyms.SourceOSMOverpass, records: []gyms.Gym{
			namedGym(0, "Vertical World", "node:1"),
		}},
		&fakeConnector{name: gyms.SourceUSACSport80, err: errors.ErrServiceUnavailable},
	)

	result, err := collector.Run(context.Background())
	require.NoError(t, err, "one broken source degrades the run, not aborts it")

	assert.Len(t, result.Failed, 1)
	assert.Contains(t, result.Failed, gyms.SourceUSACSport80)
	assert.Equal(t, 1, result.Stored)
}

func TestCollectorFailsWhenAllSourcesFail(t *testing.T) {
	collector := NewCollector(newFakeStore(),
		&fakeConnector{name: gyms.SourceOSMOverpass, err: errors.ErrServiceUnavailable},
		&fakeConnector{name: gyms.SourceUSACSport80, err: errors.ErrServiceUnavailable},
	)

	_, err := collector.Run(context.Background())
	require.Error(t, err)
}

func TestCollectorStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	collector := NewCollector(newFakeStore(),
		&fakeConnector{name: gyms.SourceOSMOverpass, err: ctx.Err()},
	)

	_, err := collector.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCanceled(err))
}

func TestRunnerRecordsAllOutcomes(t *testing.T) {
	store := newFakeStore(
		namedGym(1, "Vertical World", "node:1"),
		namedGym(2, "Stone Summit", "node:2"),
	)
	checker := &fakeChecker{outcomes: map[int64]gyms.Outcome{
		2: {Status: gyms.StatusNotFound},
	}}

	runner := NewRunner(store, checker)
	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 1, result.ByStatus[gyms.StatusValid])
	assert.Equal(t, 1, result.ByStatus[gyms.StatusNotFound])
	require.Len(t, store.outcomes, 2)
	for _, o := range store.outcomes {
		assert.Equal(t, result.RunID, o.RunID, "every outcome carries the run ID")
	}
}

func TestRunnerHonorsLimit(t *testing.T) {
	store := newFakeStore(
		namedGym(1, "A", "node:1"),
		namedGym(2, "B", "node:2"),
		namedGym(3, "C", "node:3"),
	)
	runner := NewRunner(store, &fakeChecker{})
	runner.Limit = 2

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
}

func TestRunnerReconciles(t *testing.T) {
	store := newFakeStore(namedGym(1, "Vertical World", "node:1"))
	lat, lon := 47.6615, -122.3770
	checker := &fakeChecker{outcomes: map[int64]gyms.Outcome{
		1: {
			Status:     gyms.StatusUpdated,
			Confidence: 0.95,
			Found:      gyms.Found{Latitude: &lat, Longitude: &lon, Phone: "206-283-4497"},
			Changes:    []string{"Phone added: 206-283-4497"},
		},
	}}

	runner := NewRunner(store, checker)
	runner.Reconciler = reconcile.New(store)

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Applied)
	assert.Equal(t, 1, result.Applied.Updated)
	require.Contains(t, store.updates, int64(1))
	assert.Equal(t, "206-283-4497", store.updates[1]["phone"])
}

func TestRunnerExportsProblems(t *testing.T) {
	store := newFakeStore(
		namedGym(1, "Gone Gym", "node:1"),
		namedGym(2, "Fine Gym", "node:2"),
	)
	checker := &fakeChecker{outcomes: map[int64]gyms.Outcome{
		1: {Status: gyms.StatusClosed, Confidence: 1.0, PermanentlyClosed: true},
	}}

	path := filepath.Join(t.TempDir(), "problems.json")
	runner := NewRunner(store, checker)
	runner.ProblemsPath = path

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Problems, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var exported []gyms.Outcome
	require.NoError(t, json.Unmarshal(data, &exported))
	require.Len(t, exported, 1)
	assert.Equal(t, int64(1), exported[0].GymID)
	assert.Equal(t, gyms.StatusClosed, exported[0].Status)
}
