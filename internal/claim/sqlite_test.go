package claim

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papapumpkin/pulsar/internal/board"
)

// Two store handles on one database file behave like two pulsar processes:
// each has its own connection and its own write lock to acquire.
func TestClaimNext_SharedDatabaseFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "shared.db")
	open := func() *board.SQLiteStore {
		s, err := board.NewSQLiteStore(context.Background(), path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
	first, second := open(), open()

	putBoard(t, first, nil)
	setup := New(first)
	const items = 40
	for i := range items {
		addReady(t, setup, first, fmt.Sprintf("item-%02d", i))
	}

	coords := []*Coordinator{New(first), New(second)}
	var (
		mu     sync.Mutex
		owners = make(map[string]string)
		errs   []error
		wg     sync.WaitGroup
	)
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := coords[w%2]
			worker := Worker{ID: fmt.Sprintf("w%d", w)}
			for range 10 {
				it, err := c.ClaimNext(context.Background(), "b", worker)
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				} else {
					assert.NotContains(t, owners, it.ID, "item claimed twice")
					owners[it.ID] = worker.ID
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrNoWorkAvailable), "unexpected claim error: %v", err)
	}
	assert.Len(t, owners, items)

	all, err := second.ListAll(context.Background(), "b")
	require.NoError(t, err)
	for _, it := range all {
		assert.Equal(t, board.StageInProgress, it.Stage, it.ID)
		assert.Equal(t, owners[it.ID], it.Owner, it.ID)
	}
}
