package board

import (
	"fmt"
	"time"
)

// CheckTransition validates a stage change on b, including the ownership
// rules attached to in_progress. Items before in_progress cannot jump past it. It does not look at blockers; callers that
// move items out of backlog consult the readiness evaluator first.
func CheckTransition(b *Board, from, to Item) error {
	fi, ti := b.StageIndex(from.Stage), b.StageIndex(to.Stage)
	if fi < 0 {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, from.Stage)
	}
	if ti < 0 {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, to.Stage)
	}
	if fi == ti {
		return fmt.Errorf("%w: item %s already in %q", ErrInvalidTransition, from.ID, from.Stage)
	}

	ip := b.StageIndex(StageInProgress)
	switch {
	case fi < ip && ti > ip:
		return fmt.Errorf("%w: %q -> %q skips %q", ErrInvalidTransition, from.Stage, to.Stage, StageInProgress)
	case from.Stage == StageInProgress && (to.Stage == StageReady || to.Stage == StageBacklog):
		// Return from in_progress. Backlog is the fallback when ready is full.
	case ti < fi:
		return fmt.Errorf("%w: %q -> %q moves backwards", ErrInvalidTransition, from.Stage, to.Stage)
	case to.Stage == StageInProgress && from.Stage != StageReady:
		return fmt.Errorf("%w: only ready items can be claimed (item in %q)", ErrInvalidTransition, from.Stage)
	}

	if to.Stage == StageInProgress && to.Owner == "" {
		return fmt.Errorf("%w: entering %q requires an owner", ErrInvalidTransition, StageInProgress)
	}
	if to.Stage != StageInProgress && to.Owner != "" {
		return fmt.Errorf("%w: owner must be cleared when leaving %q", ErrInvalidTransition, StageInProgress)
	}
	return nil
}

// Move returns a copy of it transitioned to stage with owner set, after
// validating the change against b. The version is left untouched; the store
// bumps it on write.
func Move(b *Board, it Item, stage, owner string, now time.Time) (Item, error) {
	next := it.Clone()
	next.Stage = stage
	next.Owner = owner
	next.TransitionedAt = now.UTC()
	if err := CheckTransition(b, it, next); err != nil {
		return Item{}, err
	}
	return next, nil
}

// NextStage returns the stage following name, or "" when name is terminal
// or unknown.
func (b *Board) NextStage(name string) string {
	i := b.StageIndex(name)
	if i < 0 || i+1 >= len(b.Stages) {
		return ""
	}
	return b.Stages[i+1].Name
}
