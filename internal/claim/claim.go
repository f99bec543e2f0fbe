// Package claim coordinates workers taking items off a board.
//
// The Coordinator holds no claim state. Every claim, release and stage move
// is a conditional write against the board store, so concurrent callers in
// any number of processes resolve contention per item: the loser of a race
// sees ErrVersionConflict and moves on to its next candidate.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/papapumpkin/pulsar/internal/board"
	"github.com/papapumpkin/pulsar/internal/readiness"
	"github.com/papapumpkin/pulsar/internal/scoring"
	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// ErrNoWorkAvailable is returned by ClaimNext when no candidate could be claimed.
var ErrNoWorkAvailable = errors.New("no work available")

// ErrUnknownOutcome is returned when a release names an unsupported outcome.
var ErrUnknownOutcome = errors.New("unknown release outcome")

// Worker identifies a claimant and the skills it brings.
type Worker struct {
	ID     string   `json:"id" yaml:"id"`
	Skills []string `json:"skills,omitempty" yaml:"skills,omitempty"`
}

// Outcome is the result a worker reports when releasing an item.
type Outcome string

// Release outcomes. Review and Done are successes; Abandoned and Failed send
// the item back to ready.
const (
	OutcomeReview    Outcome = "review"
	OutcomeDone      Outcome = "done"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeFailed    Outcome = "failed"
)

// ParseOutcome converts a string to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeReview, OutcomeDone, OutcomeAbandoned, OutcomeFailed:
		return o, nil
	}
	return "", fmt.Errorf("%w: %q (want review, done, abandoned or failed)", ErrUnknownOutcome, s)
}

// Success reports whether the outcome moves the item forward.
func (o Outcome) Success() bool {
	return o == OutcomeReview || o == OutcomeDone
}

// Enricher adjusts an item's scoring factors before ranking, for example
// from an external estimator. An error rejects the item for that ranking only.
type Enricher interface {
	Enrich(ctx context.Context, it board.Item, f scoring.Factors) (scoring.Factors, error)
}

// EnricherFunc adapts a function to the Enricher interface.
type EnricherFunc func(ctx context.Context, it board.Item, f scoring.Factors) (scoring.Factors, error)

// Enrich calls fn.
func (fn EnricherFunc) Enrich(ctx context.Context, it board.Item, f scoring.Factors) (scoring.Factors, error) {
	return fn(ctx, it, f)
}

// Coordinator implements claim, release and the supporting stage moves over a
// board store.
type Coordinator struct {
	store    board.Store
	eval     *readiness.Evaluator
	weights  scoring.Weights
	enricher Enricher
	emitter  *telemetry.Emitter
	logger   *slog.Logger
	now      func() time.Time
	retries  int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWeights overrides the default scoring weights.
func WithWeights(w scoring.Weights) Option {
	return func(c *Coordinator) { c.weights = w }
}

// WithEnricher installs a scoring enrichment hook.
func WithEnricher(e Enricher) Option {
	return func(c *Coordinator) { c.enricher = e }
}

// WithEmitter sends scheduling events to a telemetry stream.
func WithEmitter(e *telemetry.Emitter) Option {
	return func(c *Coordinator) { c.emitter = e }
}

// WithLogger sets the operator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithReleaseRetries bounds how many times Release re-reads the item after a
// version conflict caused by an unrelated concurrent edit.
func WithReleaseRetries(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.retries = n
		}
	}
}

// New creates a Coordinator over store.
func New(store board.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		eval:    readiness.NewEvaluator(store),
		weights: scoring.DefaultWeights(),
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
		retries: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClaimOption adjusts a single ClaimNext call.
type ClaimOption func(*claimOptions)

type claimOptions struct {
	exclude func(itemID string) bool
}

// Excluding skips candidates for which fn returns true.
func Excluding(fn func(itemID string) bool) ClaimOption {
	return func(o *claimOptions) { o.exclude = fn }
}

// ClaimNext claims the highest ranked claimable item on the board for w.
// Candidates lost to a concurrent writer are skipped in rank order; once the
// ranked list is exhausted, or in_progress is full, ErrNoWorkAvailable is
// returned.
func (c *Coordinator) ClaimNext(ctx context.Context, boardID string, w Worker, opts ...ClaimOption) (board.Item, error) {
	if w.ID == "" {
		return board.Item{}, fmt.Errorf("claim: worker id is required")
	}
	var o claimOptions
	for _, opt := range opts {
		opt(&o)
	}

	plan, err := c.plan(ctx, boardID, [][]string{w.Skills}, o.exclude)
	if err != nil {
		return board.Item{}, err
	}
	if plan.Readiness.Capacity == 0 {
		return board.Item{}, fmt.Errorf("claim: board %s: %w: %s is full", boardID, ErrNoWorkAvailable, board.StageInProgress)
	}

	for _, r := range plan.Ranked {
		if err := ctx.Err(); err != nil {
			return board.Item{}, err
		}
		it := plan.Readiness.Items[r.ID]
		next, err := board.Move(&plan.Readiness.Board, it, board.StageInProgress, w.ID, c.now())
		if err != nil {
			c.logger.Warn("skipping unclaimable candidate", "board", boardID, "item", it.ID, "error", err)
			continue
		}

		written, err := c.store.ConditionalWrite(ctx, next, it.Version)
		switch {
		case err == nil:
			c.logger.Info("claimed item", "board", boardID, "item", written.ID, "worker", w.ID, "score", r.Score, "version", written.Version)
			c.emit(telemetry.KindClaimAcquired, boardID, written.ID, map[string]any{
				"worker":  w.ID,
				"score":   r.Score,
				"version": written.Version,
			})
			c.emitTransition(it, written)
			return written, nil
		case errors.Is(err, board.ErrVersionConflict):
			c.logger.Debug("claim lost race, trying next candidate", "board", boardID, "item", it.ID, "worker", w.ID)
			c.emit(telemetry.KindClaimConflict, boardID, it.ID, map[string]any{"worker": w.ID, "reason": "version"})
		case errors.Is(err, board.ErrWIPLimit):
			c.emit(telemetry.KindClaimConflict, boardID, it.ID, map[string]any{"worker": w.ID, "reason": "wip_limit"})
			return board.Item{}, fmt.Errorf("claim: board %s: %w: %w", boardID, ErrNoWorkAvailable, err)
		default:
			return board.Item{}, fmt.Errorf("claim: board %s item %s: %w", boardID, it.ID, err)
		}
	}
	return board.Item{}, fmt.Errorf("claim: board %s: %w", boardID, ErrNoWorkAvailable)
}

// Release ends workerID's claim on an item. Successful outcomes move it to the
// stage after in_progress (OutcomeReview) or to the terminal stage
// (OutcomeDone). Abandoned and failed items return to ready with the owner
// cleared, or to backlog when ready is at its WIP limit.
func (c *Coordinator) Release(ctx context.Context, boardID, itemID, workerID string, outcome Outcome) (board.Item, error) {
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return board.Item{}, fmt.Errorf("claim: release %s: %w", itemID, err)
	}

	var lastErr error
	for range c.retries {
		b, err := c.store.Board(ctx, boardID)
		if err != nil {
			return board.Item{}, fmt.Errorf("claim: release %s: %w", itemID, err)
		}
		it, err := c.store.Get(ctx, boardID, itemID)
		if err != nil {
			return board.Item{}, fmt.Errorf("claim: release %s: %w", itemID, err)
		}
		if it.Stage != board.StageInProgress || it.Owner != workerID {
			return board.Item{}, fmt.Errorf("claim: release %s: %w: owner is %q in %q", itemID, board.ErrNotOwner, it.Owner, it.Stage)
		}

		written, err := c.releaseTo(ctx, &b, it, releaseTarget(&b, outcome))
		if err != nil && !outcome.Success() && errors.Is(err, board.ErrWIPLimit) {
			c.logger.Warn("ready is full, returning item to backlog", "board", boardID, "item", itemID)
			written, err = c.releaseTo(ctx, &b, it, board.StageBacklog)
		}
		switch {
		case err == nil:
			c.logger.Info("released item", "board", boardID, "item", itemID, "worker", workerID, "outcome", outcome, "stage", written.Stage)
			c.emit(telemetry.KindClaimReleased, boardID, itemID, map[string]any{
				"worker":  workerID,
				"outcome": outcome,
				"stage":   written.Stage,
				"version": written.Version,
			})
			c.emitTransition(it, written)
			return written, nil
		case errors.Is(err, board.ErrVersionConflict):
			lastErr = err
			continue
		default:
			return board.Item{}, fmt.Errorf("claim: release %s: %w", itemID, err)
		}
	}
	return board.Item{}, fmt.Errorf("claim: release %s after %d attempts: %w", itemID, c.retries, lastErr)
}

func (c *Coordinator) releaseTo(ctx context.Context, b *board.Board, it board.Item, stage string) (board.Item, error) {
	next, err := board.Move(b, it, stage, "", c.now())
	if err != nil {
		return board.Item{}, err
	}
	return c.store.ConditionalWrite(ctx, next, it.Version)
}

func releaseTarget(b *board.Board, o Outcome) string {
	switch o {
	case OutcomeReview:
		return b.NextStage(board.StageInProgress)
	case OutcomeDone:
		return b.Terminal()
	default:
		return board.StageReady
	}
}

// Promote moves an item from backlog to ready. Blocked items, including
// members of a blocking cycle, are refused with board.ErrBlocked.
func (c *Coordinator) Promote(ctx context.Context, boardID, itemID string) (board.Item, error) {
	it, err := c.store.Get(ctx, boardID, itemID)
	if err != nil {
		return board.Item{}, fmt.Errorf("claim: promote %s: %w", itemID, err)
	}
	if it.Stage != board.StageBacklog {
		return board.Item{}, fmt.Errorf("claim: promote %s: %w: item is in %q", itemID, board.ErrInvalidTransition, it.Stage)
	}
	return c.Advance(ctx, boardID, itemID, board.StageReady)
}

// Advance moves an unowned item forward to stage, or to the next stage when
// stage is empty. Items leave backlog only when unblocked. Claimed items must
// go through Release, and in_progress can only be entered through ClaimNext,
// so a ready item cannot advance past it.
func (c *Coordinator) Advance(ctx context.Context, boardID, itemID, stage string) (board.Item, error) {
	res, err := c.eval.Evaluate(ctx, boardID)
	if err != nil {
		return board.Item{}, fmt.Errorf("claim: advance %s: %w", itemID, err)
	}
	it, ok := res.Items[itemID]
	if !ok {
		return board.Item{}, fmt.Errorf("claim: advance %s: %w", itemID, board.ErrItemNotFound)
	}
	if it.Claimed() {
		return board.Item{}, fmt.Errorf("claim: advance %s: %w: item is claimed by %q, release it instead", itemID, board.ErrInvalidTransition, it.Owner)
	}
	if stage == "" {
		stage = res.Board.NextStage(it.Stage)
	}
	if reason, blocked := res.Blocked[itemID]; blocked && res.Board.StageIndex(stage) >= res.Board.StageIndex(board.StageReady) {
		return board.Item{}, fmt.Errorf("claim: advance %s: %w", itemID, reason.Err())
	}

	next, err := board.Move(&res.Board, it, stage, "", c.now())
	if err != nil {
		return board.Item{}, fmt.Errorf("claim: advance %s: %w", itemID, err)
	}
	written, err := c.store.ConditionalWrite(ctx, next, it.Version)
	if err != nil {
		return board.Item{}, fmt.Errorf("claim: advance %s: %w", itemID, err)
	}
	c.logger.Info("advanced item", "board", boardID, "item", itemID, "from", it.Stage, "to", written.Stage)
	c.emitTransition(it, written)
	return written, nil
}

func (c *Coordinator) emit(kind, boardID, itemID string, data any) {
	if err := c.emitter.Record(kind, boardID, itemID, data); err != nil {
		c.logger.Warn("telemetry write failed", "kind", kind, "error", err)
	}
}

func (c *Coordinator) emitTransition(from, to board.Item) {
	c.emit(telemetry.KindStageTransition, to.BoardID, to.ID, map[string]any{
		"from":    from.Stage,
		"to":      to.Stage,
		"owner":   to.Owner,
		"version": to.Version,
	})
}
