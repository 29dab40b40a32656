// Package pipeline wires the collection and validation flows end to end:
// fetch from every source, merge duplicates, and persist; then re-check the
// stored catalog against a search provider and reconcile what it reports.
package pipeline

import (
	"context"
	"os"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/crakt/gymmap/internal/ratelimit"
	"github.com/crakt/gymmap/internal/sources"
	"github.com/crakt/gymmap/pkg/dedupe"
	"github.com/crakt/gymmap/pkg/errors"
	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/logging"
	"github.com/crakt/gymmap/pkg/reconcile"
	"github.com/crakt/gymmap/pkg/validate"
)

// Upserter persists merged records.
type Upserter interface {
	Upsert(ctx context.Context, records []gyms.Gym) (int, error)
}

// Collector runs every connector, merges the combined results, and stores
// them. One failing source degrades the run instead of aborting it.
type Collector struct {
	store      Upserter
	merger     *dedupe.Merger
	connectors []sources.Connector
}

// NewCollector creates a Collector over the given connectors.
func NewCollector(store Upserter, connectors ...sources.Connector) *Collector {
	return &Collector{
		store:      store,
		merger:     dedupe.New(),
		connectors: connectors,
	}
}

// CollectResult summarizes one collection run.
type CollectResult struct {
	Fetched map[gyms.Source]int
	Failed  map[gyms.Source]error
	Merged  int
	Stored  int
}

// Run fetches all sources sequentially in the order given, merges, and
// upserts. It errors only when every source failed or the store rejected
// the batch; per-source failures are recorded in the result.
func (c *Collector) Run(ctx context.Context) (*CollectResult, error) {
	log := logging.Ctx(ctx)
	result := &CollectResult{
		Fetched: map[gyms.Source]int{},
		Failed:  map[gyms.Source]error{},
	}

	var combined []gyms.Gym
	for _, connector := range c.connectors {
		name := connector.Name()
		log.Info().Str("source", string(name)).Msg("Fetching source")

		records, err := connector.Fetch(ctx)
		if err != nil {
			if errors.IsCanceled(err) {
				return nil, err
			}
			log.Warn().Str("source", string(name)).Err(err).Msg("Source fetch failed, continuing")
			result.Failed[name] = errors.NewSourceError(string(name), err)
			continue
		}
		result.Fetched[name] = len(records)
		combined = append(combined, records...)
	}

	if len(result.Failed) == len(c.connectors) && len(c.connectors) > 0 {
		return result, errors.NewSourceError("all", errors.ErrServiceUnavailable)
	}

	merged := c.merger.Merge(combined)
	result.Merged = len(merged)
	log.Info().
		Int("raw", len(combined)).
		Int("merged", len(merged)).
		Msg("Merged source records")

	stored, err := c.store.Upsert(ctx, merged)
	if err != nil {
		return result, err
	}
	result.Stored = stored
	return result, nil
}

// RunnerStore is what the validation flow needs from persistence.
type RunnerStore interface {
	reconcile.Store
	LoadAll(ctx context.Context) ([]gyms.Gym, error)
	AppendOutcomes(ctx context.Context, outcomes []gyms.Outcome) error
}

// Runner validates the stored catalog against one checker and optionally
// reconciles the outcomes back into the store.
type Runner struct {
	store   RunnerStore
	checker validate.Checker

	// Limit caps how many gyms are checked; zero means all.
	Limit int

	// Reconciler, when set, applies outcomes after they are recorded.
	Reconciler *reconcile.Reconciler

	// Limiter, when set, contributes request statistics to the result.
	Limiter *ratelimit.Limiter

	// ProblemsPath, when set, receives a JSON export of closed, moved, and
	// not_found outcomes.
	ProblemsPath string
}

// NewRunner creates a validation Runner.
func NewRunner(store RunnerStore, checker validate.Checker) *Runner {
	return &Runner{store: store, checker: checker}
}

// RunResult summarizes one validation run.
type RunResult struct {
	RunID    uuid.UUID
	Checked  int
	ByStatus map[gyms.Status]int
	Problems []gyms.Outcome
	Applied  *reconcile.Summary
	Requests ratelimit.Stats
}

// Run checks each gym sequentially, so the rate limiter is the only pacing
// mechanism and one request per provider is in flight at a time.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	log := logging.Ctx(ctx)

	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if r.Limit > 0 && len(records) > r.Limit {
		records = records[:r.Limit]
	}

	result := &RunResult{
		RunID:    uuid.New(),
		ByStatus: map[gyms.Status]int{},
	}
	log.Info().
		Stringer("run_id", result.RunID).
		Int("gyms", len(records)).
		Msg("Starting validation run")

	outcomes := make([]gyms.Outcome, 0, len(records))
	current := make(map[int64]*gyms.Gym, len(records))
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		gym := &records[i]
		current[gym.ID] = gym

		outcome := r.checker.Check(ctx, gym)
		outcome.RunID = result.RunID
		outcomes = append(outcomes, outcome)
		result.ByStatus[outcome.Status]++

		log.Info().
			Int64("gym_id", gym.ID).
			Str("gym", gym.Name).
			Str("status", string(outcome.Status)).
			Float64("confidence", outcome.Confidence).
			Strs("changes", outcome.Changes).
			Msgf("[%d/%d] validated", i+1, len(records))
	}
	result.Checked = len(outcomes)

	if err := r.store.AppendOutcomes(ctx, outcomes); err != nil {
		return nil, err
	}

	if r.Reconciler != nil {
		summary, err := r.Reconciler.Apply(ctx, outcomes, current)
		if err != nil {
			return nil, err
		}
		result.Applied = summary
	}

	for _, o := range outcomes {
		switch o.Status {
		case gyms.StatusClosed, gyms.StatusMoved, gyms.StatusNotFound:
			result.Problems = append(result.Problems, o)
		}
	}
	if r.ProblemsPath != "" && len(result.Problems) > 0 {
		if err := exportProblems(r.ProblemsPath, result.Problems); err != nil {
			return nil, err
		}
		log.Info().
			Int("count", len(result.Problems)).
			Str("path", r.ProblemsPath).
			Msg("Exported problem records")
	}

	if r.Limiter != nil {
		result.Requests = r.Limiter.Stats()
	}
	return result, nil
}

func exportProblems(path string, problems []gyms.Outcome) error {
	data, err := json.MarshalIndent(problems, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapIO("write", path, err)
	}
	return nil
}
