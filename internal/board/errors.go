package board

import "errors"

// Sentinel errors returned by the board model and stores.
var (
	// ErrVersionConflict indicates a conditional write presented a stale version.
	ErrVersionConflict = errors.New("version conflict")
	// ErrWIPLimit indicates a write would push a stage past its WIP limit.
	ErrWIPLimit = errors.New("wip limit reached")
	// ErrNotOwner indicates a release by a worker that does not hold the claim.
	ErrNotOwner = errors.New("worker does not own item")
	// ErrInvalidTransition indicates a stage change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrBlocked indicates the item has unresolved blockers.
	ErrBlocked = errors.New("item is blocked")
	// ErrItemNotFound indicates the item does not exist on the board.
	ErrItemNotFound = errors.New("item not found")
	// ErrBoardNotFound indicates the board does not exist.
	ErrBoardNotFound = errors.New("board not found")
	// ErrDuplicateItem indicates an item with the same ID already exists.
	ErrDuplicateItem = errors.New("duplicate item")
	// ErrInvalidBoard indicates a board definition breaks a structural rule.
	ErrInvalidBoard = errors.New("invalid board")
)
