package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(nil, NewMemoryPersistence(), 5)
}

func TestLoad_CreatesWhenAbsent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", conv.Identity)
	assert.Empty(t, conv.History)

	// Second load returns the same record, not a fresh one.
	again, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, conv.CreatedAt, again.CreatedAt)
}

func TestUpdate_ReadYourWrites(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	release := store.Acquire("user-1")
	defer release()

	_, err := store.Update(ctx, "user-1", Mutation{
		Set: map[string]string{"activeChildId": "child-7"},
		AppendTurns: []Turn{
			{Role: "user", Text: "book an appointment", At: time.Now()},
		},
	})
	require.NoError(t, err)

	conv, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "child-7", conv.ContextValue("activeChildId"))
	require.Len(t, conv.History, 1)
	assert.Equal(t, "book an appointment", conv.History[0].Text)
}

func TestUpdate_PendingLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Update(ctx, "user-1", Mutation{
		SetPending: &PendingIntent{Intent: "schedule_appointment", MissingSlot: "child_name"},
	})
	require.NoError(t, err)

	conv, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, conv.Pending)
	assert.Equal(t, "child_name", conv.Pending.MissingSlot)

	conv, err = store.Update(ctx, "user-1", Mutation{ClearPending: true})
	require.NoError(t, err)
	assert.Nil(t, conv.Pending)
}

func TestUpdate_HistoryBounded(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := store.Update(ctx, "user-1", Mutation{
			AppendTurns: []Turn{{Role: "user", Text: fmt.Sprintf("turn %d", i)}},
		})
		require.NoError(t, err)
	}
	conv, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, conv.History, 5)
	assert.Equal(t, "turn 3", conv.History[0].Text)
	assert.Equal(t, "turn 7", conv.History[4].Text)
}

func TestAcquire_SerializesSameIdentity(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	const turns = 50
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			release := store.Acquire("user-1")
			defer release()
			_, err := store.Update(ctx, "user-1", Mutation{
				Set: map[string]string{fmt.Sprintf("key-%d", i): "v"},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	conv, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	// No lost updates: every turn's context write survived.
	assert.Len(t, conv.Context, turns)
}

func TestAcquire_IndependentIdentitiesDoNotBlock(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	releaseA := store.Acquire("user-a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB := store.Acquire("user-b")
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquiring a different identity blocked behind user-a")
	}
}
