package board

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Store is the durable item store the scheduling core coordinates through.
// Implementations must be consistent per item (read-your-writes) and must
// apply ConditionalWrite atomically: the version comparison, the WIP check for
// the target stage, the item update and the history append either all happen
// or none do. No cross-item transactions are assumed by callers.
type Store interface {
	// PutBoard creates or replaces a board definition. It rejects definitions
	// whose limits are already exceeded or that drop a stage holding items.
	PutBoard(ctx context.Context, b Board) error

	// Board returns the board definition, or ErrBoardNotFound.
	Board(ctx context.Context, boardID string) (Board, error)

	// Boards returns every board definition ordered by ID.
	Boards(ctx context.Context) ([]Board, error)

	// Create inserts a new item in backlog with version 1.
	Create(ctx context.Context, it Item) (Item, error)

	// Get returns a single item, or ErrItemNotFound.
	Get(ctx context.Context, boardID, itemID string) (Item, error)

	// List returns the items of one stage ordered by creation time then ID.
	List(ctx context.Context, boardID, stage string) ([]Item, error)

	// ListAll returns every item on the board ordered by creation time then ID.
	ListAll(ctx context.Context, boardID string) ([]Item, error)

	// ConditionalWrite stores it when the stored version equals
	// expectedVersion, and returns the written item with its version bumped
	// by one. A stale version yields ErrVersionConflict; a stage change that
	// would exceed the target stage's limit yields ErrWIPLimit.
	ConditionalWrite(ctx context.Context, it Item, expectedVersion int64) (Item, error)

	// History returns the stage transitions recorded for an item, oldest first.
	History(ctx context.Context, boardID, itemID string) ([]Transition, error)

	// Close releases store resources.
	Close() error
}

// prepareCreate validates and normalizes an item for insertion.
func prepareCreate(b *Board, it Item, now time.Time) (Item, error) {
	if it.ID == "" {
		return Item{}, fmt.Errorf("board: create item: missing id")
	}
	if it.Stage == "" {
		it.Stage = StageBacklog
	}
	if it.Stage != StageBacklog {
		return Item{}, fmt.Errorf("%w: items are created in %q, not %q", ErrInvalidTransition, StageBacklog, it.Stage)
	}
	if it.Owner != "" {
		return Item{}, fmt.Errorf("%w: new items cannot have an owner", ErrInvalidTransition)
	}
	if !b.HasStage(it.Stage) {
		return Item{}, fmt.Errorf("%w: board %q has no stage %q", ErrInvalidBoard, b.ID, it.Stage)
	}
	it.BoardID = b.ID
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.CreatedAt = it.CreatedAt.UTC()
	it.TransitionedAt = it.CreatedAt
	it.Version = 1
	return it.Clone(), nil
}

// checkWrite applies the version and WIP rules for a conditional write.
// occupied is the number of other items currently in it.Stage.
func checkWrite(b *Board, stored, it Item, expectedVersion int64, occupied int) error {
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: item %s at version %d, write expected %d",
			ErrVersionConflict, it.ID, stored.Version, expectedVersion)
	}
	if !b.HasStage(it.Stage) {
		return fmt.Errorf("%w: board %q has no stage %q", ErrInvalidTransition, b.ID, it.Stage)
	}
	if stored.Stage == it.Stage {
		return nil
	}
	if limit, ok := b.WIPLimit(it.Stage); ok && occupied >= limit {
		return fmt.Errorf("%w: stage %q holds %d of %d", ErrWIPLimit, it.Stage, occupied, limit)
	}
	return nil
}

// checkBoardUpdate verifies a replacement definition against current stage
// occupancy.
func checkBoardUpdate(next Board, counts map[string]int) error {
	for stage, n := range counts {
		if n == 0 {
			continue
		}
		if !next.HasStage(stage) {
			return fmt.Errorf("%w: board %q drops stage %q which holds %d items", ErrInvalidBoard, next.ID, stage, n)
		}
		if limit, ok := next.WIPLimit(stage); ok && n > limit {
			return fmt.Errorf("%w: board %q stage %q holds %d items, limit %d", ErrWIPLimit, next.ID, stage, n, limit)
		}
	}
	return nil
}

// SortItems orders items by creation time, then ID.
func SortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
