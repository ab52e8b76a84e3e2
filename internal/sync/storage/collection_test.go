package storage

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/kv"
)

// TestCollection_LoadAbsent verifies a missing key reads as the zero value.
func TestCollection_LoadAbsent(t *testing.T) {
	c := NewCollection[[]string](kv.NewMemoryStore(), NewLockManager(), "things")
	v, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, v)
}

// TestCollection_Update verifies fn results are persisted only when changed.
func TestCollection_Update(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	c := NewCollection[[]string](store, NewLockManager(), "things")

	_, err := c.Update(ctx, func(doc *[]string) (bool, error) {
		*doc = append(*doc, "a")
		return true, nil
	})
	require.NoError(t, err)

	_, err = c.Update(ctx, func(doc *[]string) (bool, error) {
		*doc = append(*doc, "ignored")
		return false, nil
	})
	require.NoError(t, err)

	raw, _, _ := store.Get(ctx, "things")
	assert.Equal(t, `["a"]`, raw)
}

// TestCollection_ConcurrentUpdates verifies no writer's change is lost.
func TestCollection_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[[]int](kv.NewMemoryStore(), NewLockManager(), "numbers")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := c.Update(ctx, func(doc *[]int) (bool, error) {
				*doc = append(*doc, n)
				return true, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	v, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, v, 50)
}

// TestCollection_CorruptPayload verifies corrupt data surfaces an error and is not overwritten.
func TestCollection_CorruptPayload(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "things", "{not json"))
	c := NewCollection[[]string](store, NewLockManager(), "things")

	_, err := c.Load(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageCorrupt))

	_, err = c.Update(ctx, func(doc *[]string) (bool, error) {
		*doc = append(*doc, "a")
		return true, nil
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageCorrupt))

	raw, _, _ := store.Get(ctx, "things")
	assert.Equal(t, "{not json", raw)
}

// TestCollection_Quarantine verifies the raw payload is retained under a new key.
func TestCollection_Quarantine(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "things", "{not json"))
	c := NewCollection[[]string](store, NewLockManager(), "things")

	target, err := c.Quarantine(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, "things.corrupt."))

	raw, found, _ := store.Get(ctx, target)
	assert.True(t, found)
	assert.Equal(t, "{not json", raw)

	v, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, v)

	// A healthy collection is left alone.
	require.NoError(t, c.Save(ctx, []string{"ok"}))
	target, err = c.Quarantine(ctx)
	require.NoError(t, err)
	assert.Empty(t, target)
}

// TestLockManager_SameKey verifies one mutex per key.
func TestLockManager_SameKey(t *testing.T) {
	lm := NewLockManager()
	assert.Same(t, lm.GetLock("a"), lm.GetLock("a"))
	assert.NotSame(t, lm.GetLock("a"), lm.GetLock("b"))
}

// TestCollection_RemoveIf verifies conditional deletion.
func TestCollection_RemoveIf(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	c := NewCollection[[]string](store, NewLockManager(), "things")

	removed, err := c.RemoveIf(ctx, func([]string) bool { return true })
	require.NoError(t, err)
	assert.False(t, removed, "absent document must not be removed")

	require.NoError(t, c.Save(ctx, []string{"keep"}))
	removed, err = c.RemoveIf(ctx, func(doc []string) bool { return len(doc) == 0 })
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = c.RemoveIf(ctx, func(doc []string) bool { return doc[0] == "keep" })
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, store.Len())
}
