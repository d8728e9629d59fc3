// Package pipeline runs the sequential fetch, sessionize and accumulate
// loop over every shard and builds the final report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/vincentbai/browsetrace-sessions/internal/accumulate"
	"github.com/vincentbai/browsetrace-sessions/internal/aggregate"
	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/logging"
	"github.com/vincentbai/browsetrace-sessions/internal/models"
	"github.com/vincentbai/browsetrace-sessions/internal/report"
	"github.com/vincentbai/browsetrace-sessions/internal/sessionize"
	"github.com/vincentbai/browsetrace-sessions/internal/source"
)

// FailurePolicy decides what a failed shard does to the run.
type FailurePolicy string

const (
	// Abort stops the run at the first failed shard.
	Abort FailurePolicy = "abort"
	// Skip records the failure and continues; the report is then partial.
	Skip FailurePolicy = "skip"
)

// RecordPolicy decides what invalid records do to their shard.
type RecordPolicy string

const (
	// FailShard turns any invalid record into a shard failure.
	FailShard RecordPolicy = "fail"
	// DropRecords drops invalid records and keeps the rest of the shard.
	DropRecords RecordPolicy = "skip"
)

func ParseFailurePolicy(name string) (FailurePolicy, error) {
	switch FailurePolicy(name) {
	case Abort, Skip:
		return FailurePolicy(name), nil
	}
	return "", fmt.Errorf("unknown shard failure policy: %q", name)
}

func ParseRecordPolicy(name string) (RecordPolicy, error) {
	switch RecordPolicy(name) {
	case FailShard, DropRecords:
		return RecordPolicy(name), nil
	}
	return "", fmt.Errorf("unknown invalid record policy: %q", name)
}

type Options struct {
	Shards         int
	OnShardError   FailurePolicy
	InvalidRecords RecordPolicy
	Dimensions     []models.Dimension
	Logger         logging.Logger
	// Now is used for run timestamps; defaults to time.Now.
	Now func() time.Time
}

// Coverage describes how much of the input made it into the report.
type Coverage struct {
	ShardsTotal    int
	ShardsOK       int
	ShardsEmpty    int
	Events         int
	InvalidRecords int
	LabelConflicts int
	Failures       []models.ShardFailure
}

// Partial reports whether any shard is missing from the report.
func (c Coverage) Partial() bool {
	return len(c.Failures) > 0
}

type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	State      accumulate.State
	Medians    aggregate.Result
	Report     []byte // canonical JSON
	Digest     string
	Coverage   Coverage
}

// Record converts the result into its archived form.
func (r *Result) Record() models.RunRecord {
	return models.RunRecord{
		ID:             r.RunID,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		ShardsTotal:    r.Coverage.ShardsTotal,
		ShardsOK:       r.Coverage.ShardsOK,
		ShardsEmpty:    r.Coverage.ShardsEmpty,
		InvalidRecords: r.Coverage.InvalidRecords,
		Events:         r.Coverage.Events,
		Sessions:       r.State.Len(),
		Partial:        r.Coverage.Partial(),
		Digest:         r.Digest,
		Report:         r.Report,
		Failures:       r.Coverage.Failures,
	}
}

type Runner struct {
	source      source.Source
	sessionizer *sessionize.Sessionizer
	opts        Options
}

func NewRunner(src source.Source, sessionizer *sessionize.Sessionizer, opts Options) (*Runner, error) {
	if src == nil || sessionizer == nil {
		return nil, coreerrors.Wrap(errors.New("runner needs a source and a sessionizer"),
			coreerrors.CategoryInvalidInput, "runner_incomplete", "", false)
	}
	if opts.Shards <= 0 {
		return nil, coreerrors.Wrap(fmt.Errorf("shard count must be positive, got %d", opts.Shards),
			coreerrors.CategoryInvalidInput, "shard_count_invalid", "", false)
	}
	if opts.OnShardError == "" {
		opts.OnShardError = Abort
	}
	if _, err := ParseFailurePolicy(string(opts.OnShardError)); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "failure_policy_invalid", "use \"abort\" or \"skip\"", false)
	}
	if opts.InvalidRecords == "" {
		opts.InvalidRecords = FailShard
	}
	if _, err := ParseRecordPolicy(string(opts.InvalidRecords)); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "record_policy_invalid", "use \"fail\" or \"skip\"", false)
	}
	if len(opts.Dimensions) == 0 {
		opts.Dimensions = models.Dimensions
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{source: src, sessionizer: sessionizer, opts: opts}, nil
}

// shardOutcome holds what one successful shard adds to the coverage.
type shardOutcome struct {
	empty          bool
	events         int
	invalidRecords int
	labelConflicts int
}

// Run processes shards 0..Shards-1 in order. Under the Abort policy the
// first shard failure is returned and no report is built. Cancellation of
// ctx always aborts.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	log := r.opts.Logger
	result := &Result{
		RunID:     uuid.NewString(),
		StartedAt: r.opts.Now(),
		Coverage:  Coverage{ShardsTotal: r.opts.Shards},
	}
	log.Info("run %s: processing %d shards (on shard error: %s, invalid records: %s)",
		result.RunID, r.opts.Shards, r.opts.OnShardError, r.opts.InvalidRecords)

	state := accumulate.State{}
	for shard := 0; shard < r.opts.Shards; shard++ {
		next, outcome, err := r.processShard(ctx, shard, state)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("run %s canceled at shard %d: %w", result.RunID, shard, err)
			}
			if r.opts.OnShardError == Abort {
				log.Error("shard %d failed, aborting run: %v", shard, err)
				return nil, fmt.Errorf("run %s aborted at shard %d: %w", result.RunID, shard, err)
			}
			log.Warn("shard %d skipped: %v", shard, err)
			result.Coverage.Failures = append(result.Coverage.Failures, failureOf(shard, err))
			continue
		}

		state = next
		result.Coverage.ShardsOK++
		result.Coverage.Events += outcome.events
		result.Coverage.InvalidRecords += outcome.invalidRecords
		result.Coverage.LabelConflicts += outcome.labelConflicts
		if outcome.empty {
			result.Coverage.ShardsEmpty++
		}
	}

	medians, warnings := aggregate.Aggregate(state.Sessions, r.opts.Dimensions)
	for _, warning := range warnings {
		log.Warn("%v", warning)
	}
	canonical, err := report.Encode(medians)
	if err != nil {
		return nil, err
	}
	digest, err := report.Digest(canonical)
	if err != nil {
		return nil, err
	}

	result.State = state
	result.Medians = medians
	result.Report = canonical
	result.Digest = digest
	result.FinishedAt = r.opts.Now()

	if result.Coverage.Partial() {
		log.Warn("run %s: partial report, %d of %d shards failed", result.RunID,
			len(result.Coverage.Failures), result.Coverage.ShardsTotal)
	}
	log.Info("run %s: %d sessions from %d events in %s", result.RunID, state.Len(),
		result.Coverage.Events, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	return result, nil
}

func (r *Runner) processShard(ctx context.Context, shard int, state accumulate.State) (accumulate.State, shardOutcome, error) {
	log := r.opts.Logger
	started := time.Now()

	batch, err := r.source.Fetch(ctx, shard)
	if err != nil {
		return state, shardOutcome{}, err
	}

	outcome := shardOutcome{}
	if n := len(batch.Invalid); n > 0 {
		first := batch.Invalid[0]
		if r.opts.InvalidRecords == FailShard {
			return state, shardOutcome{}, coreerrors.Wrap(
				fmt.Errorf("shard %d: %d invalid records, first at line %d: %s", shard, n, first.Line, first.Reason),
				coreerrors.CategoryDataFormat, "shard_records_invalid",
				"set invalid records to \"skip\" to drop them", false)
		}
		log.Warn("shard %d: dropped %d invalid records, first at line %d: %s", shard, n, first.Line, first.Reason)
		outcome.invalidRecords = n
	}

	if len(batch.Events) == 0 {
		warning := coreerrors.Wrap(fmt.Errorf("shard %d (%s) has no events", shard, batch.Location),
			coreerrors.CategoryEmptyBatch, "shard_empty", "", false)
		log.Warn("%v", warning)
		outcome.empty = true
		return state, outcome, nil
	}

	sessions, stats, err := r.sessionizer.SessionizeWithStats(batch.Events, state.NextSessionID)
	if err != nil {
		return state, shardOutcome{}, fmt.Errorf("shard %d: %w", shard, err)
	}
	next, err := accumulate.Accumulate(state, sessions)
	if err != nil {
		return state, shardOutcome{}, fmt.Errorf("shard %d: %w", shard, err)
	}
	if stats.LabelConflicts > 0 {
		log.Warn("shard %d: %d events disagree with their session's segment labels", shard, stats.LabelConflicts)
	}

	outcome.events = stats.Events
	outcome.labelConflicts = stats.LabelConflicts
	log.Info("shard %d: %d events, %d sessions (ids %d-%d), %s in %s", shard, stats.Events, stats.Sessions,
		state.NextSessionID, next.NextSessionID-1, humanize.Bytes(uint64(batch.Bytes)),
		time.Since(started).Round(time.Millisecond))
	return next, outcome, nil
}

func failureOf(shard int, err error) models.ShardFailure {
	return models.ShardFailure{
		Shard:    shard,
		Category: string(coreerrors.CategoryOf(err)),
		Code:     coreerrors.CodeOf(err),
		Message:  err.Error(),
	}
}
