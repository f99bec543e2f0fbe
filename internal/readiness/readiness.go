// Package readiness decides which items on a board may be claimed right now.
//
// An item is claimable when it sits in ready, has no owner, every blocker has
// reached the board's terminal stage, it is not part of a blocking cycle, and
// in_progress has spare WIP capacity. Evaluation is a pure function of a board
// snapshot; Evaluator only adds the store read in front of it.
package readiness

import (
	"context"
	"fmt"

	"github.com/papapumpkin/pulsar/internal/board"
	"github.com/papapumpkin/pulsar/internal/dag"
	"github.com/papapumpkin/pulsar/internal/scoring"
)

// Unlimited is the Capacity reported when in_progress has no WIP limit.
const Unlimited = -1

// Reason explains why an item is blocked.
type Reason struct {
	ItemID string
	// Unresolved lists direct blockers not yet in the terminal stage.
	Unresolved []string
	// Missing lists blocker IDs that do not exist on the board.
	Missing []string
	// Cycle holds the cycle group the item belongs to, if any.
	Cycle []string
}

// Err returns the error form of the reason. It always matches
// board.ErrBlocked, and also dag.ErrCyclicDependency for cycle members.
func (r Reason) Err() error {
	if len(r.Cycle) > 0 {
		return fmt.Errorf("%w: %w: item %s is on cycle %v", board.ErrBlocked, dag.ErrCyclicDependency, r.ItemID, r.Cycle)
	}
	return fmt.Errorf("%w: item %s waits on %v (missing %v)", board.ErrBlocked, r.ItemID, r.Unresolved, r.Missing)
}

// Result is the readiness view of one board at one moment.
type Result struct {
	Board board.Board
	Items map[string]board.Item
	Graph *dag.Graph

	// Candidates are claimable items ordered by creation time then ID.
	Candidates []board.Item
	// Blocked maps every non-terminal item with unresolved blockers or a
	// cycle to its reason.
	Blocked map[string]Reason
	// Cycles are the blocking cycles found on the board.
	Cycles [][]string
	// Capacity is the remaining in_progress WIP capacity, or Unlimited.
	Capacity int
	// Violations lists blocked items found in ready or later. They can only
	// appear through writes that bypass the coordinator.
	Violations []string
}

// IsBlocked reports whether the item has unresolved blockers or is on a cycle.
func (r *Result) IsBlocked(itemID string) bool {
	_, ok := r.Blocked[itemID]
	return ok
}

// Factors builds the scoring inputs for it. workers are the skill sets of the
// workers currently available. Missing item inputs are passed through as
// scoring.Missing so the engine rejects them.
func (r *Result) Factors(it board.Item, workers [][]string) scoring.Factors {
	f := scoring.Factors{
		CustomerValue: scoring.Missing,
		Learning:      scoring.Missing,
		UnblockImpact: scoring.UnblockImpact(r.Graph.DependentCount(it.ID), r.Graph.MaxDependentCount()),
		Availability:  scoring.Availability(it.RequiredSkills, workers),
	}
	if it.CustomerValue != nil {
		f.CustomerValue = *it.CustomerValue
	}
	if it.LearningValue != nil {
		f.Learning = *it.LearningValue
	}
	return f
}

// Evaluate computes readiness for a board snapshot.
func Evaluate(b board.Board, items []board.Item) *Result {
	r := &Result{
		Board:    b,
		Items:    make(map[string]board.Item, len(items)),
		Graph:    dag.New(),
		Blocked:  make(map[string]Reason),
		Capacity: Unlimited,
	}
	for _, it := range items {
		r.Items[it.ID] = it
		_ = r.Graph.AddNode(it.ID) // IDs are unique per board
	}
	for _, it := range items {
		for _, dep := range it.BlockedBy {
			if r.Graph.Has(dep) {
				_ = r.Graph.AddEdge(it.ID, dep)
			}
		}
	}

	terminal := b.Terminal()
	r.Cycles = r.Graph.Cycles()
	cycleOf := make(map[string][]string)
	for _, group := range r.Cycles {
		for _, id := range group {
			cycleOf[id] = group
		}
	}

	inProgress := 0
	for _, it := range items {
		if it.Stage == board.StageInProgress {
			inProgress++
		}
		if it.Stage == terminal {
			continue
		}
		reason := Reason{ItemID: it.ID, Cycle: cycleOf[it.ID]}
		for _, dep := range it.BlockedBy {
			blocker, ok := r.Items[dep]
			switch {
			case !ok:
				reason.Missing = append(reason.Missing, dep)
			case blocker.Stage != terminal:
				reason.Unresolved = append(reason.Unresolved, dep)
			}
		}
		if len(reason.Cycle) == 0 && len(reason.Unresolved) == 0 && len(reason.Missing) == 0 {
			continue
		}
		r.Blocked[it.ID] = reason
		if b.StageIndex(it.Stage) >= b.StageIndex(board.StageReady) {
			r.Violations = append(r.Violations, it.ID)
		}
	}

	if limit, ok := b.WIPLimit(board.StageInProgress); ok {
		r.Capacity = max(limit-inProgress, 0)
	}
	if r.Capacity == 0 {
		return r
	}
	for _, it := range items {
		if it.Stage != board.StageReady || it.Claimed() || r.IsBlocked(it.ID) {
			continue
		}
		r.Candidates = append(r.Candidates, it)
	}
	board.SortItems(r.Candidates)
	return r
}

// Evaluator reads board snapshots from a store and evaluates them.
type Evaluator struct {
	store board.Store
}

// NewEvaluator creates an Evaluator over store.
func NewEvaluator(store board.Store) *Evaluator {
	return &Evaluator{store: store}
}

// Evaluate loads the board and its items and computes readiness.
func (e *Evaluator) Evaluate(ctx context.Context, boardID string) (*Result, error) {
	b, err := e.store.Board(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("readiness: %w", err)
	}
	items, err := e.store.ListAll(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("readiness: list items on %q: %w", boardID, err)
	}
	return Evaluate(b, items), nil
}
