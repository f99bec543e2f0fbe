package board

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-process Store. All operations are serialized by a single
// mutex, which makes ConditionalWrite trivially atomic. It is used for tests,
// dry runs and ephemeral boards.
type MemStore struct {
	mu      sync.Mutex
	boards  map[string]Board
	items   map[string]map[string]Item // boardID -> itemID -> item
	history map[string][]Transition    // boardID/itemID -> transitions
	now     func() time.Time
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		boards:  make(map[string]Board),
		items:   make(map[string]map[string]Item),
		history: make(map[string][]Transition),
		now:     time.Now,
	}
}

func historyKey(boardID, itemID string) string {
	return boardID + "/" + itemID
}

// PutBoard creates or replaces a board definition.
func (m *MemStore) PutBoard(_ context.Context, b Board) error {
	if err := b.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int)
	for _, it := range m.items[b.ID] {
		counts[it.Stage]++
	}
	if err := checkBoardUpdate(b, counts); err != nil {
		return err
	}
	m.boards[b.ID] = b.Clone()
	if m.items[b.ID] == nil {
		m.items[b.ID] = make(map[string]Item)
	}
	return nil
}

// Board returns the board definition.
func (m *MemStore) Board(_ context.Context, boardID string) (Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok {
		return Board{}, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	return b.Clone(), nil
}

// Boards returns every board ordered by ID.
func (m *MemStore) Boards(_ context.Context) ([]Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Board, 0, len(m.boards))
	for _, b := range m.boards {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create inserts a new backlog item.
func (m *MemStore) Create(_ context.Context, it Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[it.BoardID]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrBoardNotFound, it.BoardID)
	}
	created, err := prepareCreate(&b, it, m.now())
	if err != nil {
		return Item{}, err
	}
	if _, exists := m.items[b.ID][created.ID]; exists {
		return Item{}, fmt.Errorf("%w: %s/%s", ErrDuplicateItem, b.ID, created.ID)
	}
	m.items[b.ID][created.ID] = created
	return created.Clone(), nil
}

// Get returns a single item.
func (m *MemStore) Get(_ context.Context, boardID, itemID string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[boardID][itemID]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s/%s", ErrItemNotFound, boardID, itemID)
	}
	return it.Clone(), nil
}

// List returns the items of one stage.
func (m *MemStore) List(_ context.Context, boardID, stage string) ([]Item, error) {
	return m.collect(boardID, func(it Item) bool { return it.Stage == stage })
}

// ListAll returns every item on the board.
func (m *MemStore) ListAll(_ context.Context, boardID string) ([]Item, error) {
	return m.collect(boardID, func(Item) bool { return true })
}

func (m *MemStore) collect(boardID string, keep func(Item) bool) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[boardID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	var out []Item
	for _, it := range m.items[boardID] {
		if keep(it) {
			out = append(out, it.Clone())
		}
	}
	SortItems(out)
	return out, nil
}

// ConditionalWrite stores it if the stored version matches expectedVersion.
func (m *MemStore) ConditionalWrite(_ context.Context, it Item, expectedVersion int64) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[it.BoardID]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrBoardNotFound, it.BoardID)
	}
	stored, ok := m.items[b.ID][it.ID]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s/%s", ErrItemNotFound, b.ID, it.ID)
	}

	occupied := 0
	for id, other := range m.items[b.ID] {
		if id != it.ID && other.Stage == it.Stage {
			occupied++
		}
	}
	if err := checkWrite(&b, stored, it, expectedVersion, occupied); err != nil {
		return Item{}, err
	}

	next := it.Clone()
	next.CreatedAt = stored.CreatedAt
	next.Version = expectedVersion + 1
	if next.TransitionedAt.IsZero() {
		next.TransitionedAt = stored.TransitionedAt
	}
	m.items[b.ID][it.ID] = next

	if stored.Stage != next.Stage {
		key := historyKey(b.ID, it.ID)
		m.history[key] = append(m.history[key], Transition{
			ItemID:  it.ID,
			BoardID: b.ID,
			From:    stored.Stage,
			To:      next.Stage,
			Owner:   next.Owner,
			Version: next.Version,
			At:      next.TransitionedAt,
		})
	}
	return next.Clone(), nil
}

// History returns the recorded transitions of an item.
func (m *MemStore) History(_ context.Context, boardID, itemID string) ([]Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[boardID][itemID]; !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrItemNotFound, boardID, itemID)
	}
	h := m.history[historyKey(boardID, itemID)]
	out := make([]Transition, len(h))
	copy(out, h)
	return out, nil
}

// Close is a no-op.
func (m *MemStore) Close() error {
	return nil
}
