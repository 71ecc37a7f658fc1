package binding

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/clock"
	"github.com/k82cn/flame/pkg/errors"
	"github.com/k82cn/flame/storage"
)

func newTestCoordinator(t *testing.T, bindWait time.Duration) (*Coordinator, *storage.Storage) {
	t.Helper()
	store, err := storage.New(context.Background(),
		"sqlite://"+filepath.Join(t.TempDir(), "flame.db"))
	require.NoError(t, err)

	c := NewCoordinator(store, bindWait, clock.New())
	t.Cleanup(func() {
		c.Close()
		require.NoError(t, store.Close())
	})
	return c, store
}

func addIdleExecutor(t *testing.T, store *storage.Storage, id string, slots int) {
	t.Helper()
	require.NoError(t, store.AddExecutor(&model.Executor{
		ID:    id,
		Slots: slots,
		State: model.ExecutorIdle,
	}))
}

func TestAcquireTimesOut(t *testing.T) {
	c, store := newTestCoordinator(t, 50*time.Millisecond)
	addIdleExecutor(t, store, "e1", 1)

	_, err := c.Acquire(context.Background(), "e1")
	require.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestAcquireFIFOWithinApplication(t *testing.T) {
	c, store := newTestCoordinator(t, time.Second)
	addIdleExecutor(t, store, "e1", 1)
	addIdleExecutor(t, store, "e2", 1)

	c.SetPlan([]Assignment{
		{Application: "app", SessionID: "ssn-1", Slots: 1},
		{Application: "app", SessionID: "ssn-2", Slots: 1},
	})

	first, err := c.Acquire(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, "ssn-1", first.SessionID)

	second, err := c.Acquire(context.Background(), "e2")
	require.NoError(t, err)
	require.Equal(t, "ssn-2", second.SessionID)
	require.Equal(t, 0, c.PendingBinds())
}

func TestAcquireSkipsSlotMismatch(t *testing.T) {
	c, store := newTestCoordinator(t, 50*time.Millisecond)
	addIdleExecutor(t, store, "e1", 2)

	c.SetPlan([]Assignment{{Application: "app", SessionID: "ssn-1", Slots: 1}})

	_, err := c.Acquire(context.Background(), "e1")
	require.True(t, errors.Is(err, errors.ErrUnavailable))
	require.Equal(t, 1, c.PendingBinds())
}

func TestAcquireWokenByNewPlan(t *testing.T) {
	c, store := newTestCoordinator(t, 5*time.Second)
	addIdleExecutor(t, store, "e1", 1)

	var wg sync.WaitGroup
	wg.Add(1)
	var got *Assignment
	go func() {
		defer wg.Done()
		assignment, err := c.Acquire(context.Background(), "e1")
		require.NoError(t, err)
		got = assignment
	}()

	// Let the waiter block, then publish the plan.
	time.Sleep(50 * time.Millisecond)
	c.SetPlan([]Assignment{{Application: "app", SessionID: "ssn-1", Slots: 1}})

	wg.Wait()
	require.NotNil(t, got)
	require.Equal(t, "ssn-1", got.SessionID)

	exec, err := store.GetExecutor("e1")
	require.NoError(t, err)
	require.Equal(t, model.ExecutorBinding, exec.State)
	require.Equal(t, "ssn-1", exec.SessionID)
}

func TestAcquireNonIdleExecutor(t *testing.T) {
	c, store := newTestCoordinator(t, time.Second)
	require.NoError(t, store.AddExecutor(&model.Executor{
		ID: "e1", Slots: 1, State: model.ExecutorBound, SessionID: "ssn-0",
	}))

	_, err := c.Acquire(context.Background(), "e1")
	require.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestAcquireCancelled(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	addIdleExecutor(t, store, "e1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Acquire(ctx, "e1")
	require.True(t, errors.Is(err, errors.ErrCancelled))
}
