package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Value int `json:"value"`
}

func key(id string) Key {
	return Key{Collection: "docs", ID: id}
}

func TestGetSetCreate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var missing doc
	assert.ErrorIs(t, m.Get(ctx, key("a"), &missing), ErrNotFound)

	require.NoError(t, m.Create(ctx, key("a"), doc{Value: 1}))
	assert.ErrorIs(t, m.Create(ctx, key("a"), doc{Value: 2}), ErrExists)

	require.NoError(t, m.Set(ctx, key("a"), doc{Value: 3}))

	var got doc
	require.NoError(t, m.Get(ctx, key("a"), &got))
	assert.Equal(t, 3, got.Value)
}

func TestTransactionCommitsAtomically(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, key("a"), doc{Value: 1}))
	require.NoError(t, m.Create(ctx, key("b"), doc{Value: 10}))

	err := m.RunTransaction(ctx, func(txCtx context.Context) error {
		var a, b doc
		if err := m.Get(txCtx, key("a"), &a); err != nil {
			return err
		}
		if err := m.Get(txCtx, key("b"), &b); err != nil {
			return err
		}
		if err := m.Set(txCtx, key("a"), doc{Value: a.Value - 1}); err != nil {
			return err
		}
		return m.Set(txCtx, key("b"), doc{Value: b.Value + 1})
	})
	require.NoError(t, err)

	var a, b doc
	require.NoError(t, m.Get(ctx, key("a"), &a))
	require.NoError(t, m.Get(ctx, key("b"), &b))
	assert.Equal(t, 0, a.Value)
	assert.Equal(t, 11, b.Value)
}

func TestReadAfterWriteRejected(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, key("a"), doc{Value: 1}))

	err := m.RunTransaction(ctx, func(txCtx context.Context) error {
		if err := m.Set(txCtx, key("a"), doc{Value: 2}); err != nil {
			return err
		}
		var a doc
		return m.Get(txCtx, key("a"), &a)
	})
	assert.ErrorIs(t, err, ErrReadAfterWrite)

	// The aborted transaction must not have applied its buffered write.
	var a doc
	require.NoError(t, m.Get(ctx, key("a"), &a))
	assert.Equal(t, 1, a.Value)
}

func TestFnErrorAbortsWithoutWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, key("a"), doc{Value: 1}))

	boom := errors.New("boom")
	err := m.RunTransaction(ctx, func(txCtx context.Context) error {
		if err := m.Set(txCtx, key("a"), doc{Value: 99}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var a doc
	require.NoError(t, m.Get(ctx, key("a"), &a))
	assert.Equal(t, 1, a.Value)
}

func TestConcurrentIncrementsSerialize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithMaxAttempts(50))
	require.NoError(t, m.Create(ctx, key("counter"), doc{Value: 0}))

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.RunTransaction(ctx, func(txCtx context.Context) error {
				var d doc
				if err := m.Get(txCtx, key("counter"), &d); err != nil {
					return err
				}
				return m.Set(txCtx, key("counter"), doc{Value: d.Value + 1})
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}
	var got doc
	require.NoError(t, m.Get(ctx, key("counter"), &got))
	assert.Equal(t, writers, got.Value)
}

func TestConflictRetriesExhaust(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithMaxAttempts(3))
	require.NoError(t, m.Create(ctx, key("a"), doc{Value: 0}))

	attempts := 0
	err := m.RunTransaction(ctx, func(txCtx context.Context) error {
		attempts++
		var a doc
		if err := m.Get(txCtx, key("a"), &a); err != nil {
			return err
		}
		// Out-of-band write invalidates the read version every attempt.
		if err := m.Set(ctx, key("a"), doc{Value: a.Value + 100}); err != nil {
			return err
		}
		return m.Set(txCtx, key("a"), doc{Value: a.Value + 1})
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, attempts)
}

func TestAbsentReadConflictsWithConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithMaxAttempts(5))

	attempts := 0
	err := m.RunTransaction(ctx, func(txCtx context.Context) error {
		attempts++
		var a doc
		readErr := m.Get(txCtx, key("a"), &a)
		if readErr != nil && !errors.Is(readErr, ErrNotFound) {
			return readErr
		}
		if attempts == 1 {
			// Another writer creates the doc between our read and commit;
			// the recorded version 0 must no longer validate.
			if err := m.Create(ctx, key("a"), doc{Value: 7}); err != nil {
				return err
			}
		}
		return m.Set(txCtx, key("a"), doc{Value: a.Value + 1})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	var got doc
	require.NoError(t, m.Get(ctx, key("a"), &got))
	assert.Equal(t, 8, got.Value)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemory()
	err := m.RunTransaction(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
