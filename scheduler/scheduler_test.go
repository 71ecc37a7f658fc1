package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/k82cn/flame/events"
	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/clock"
	"github.com/k82cn/flame/scheduler/binding"
	"github.com/k82cn/flame/storage"
)

type schedTestEnv struct {
	storage     *storage.Storage
	coordinator *binding.Coordinator
	scheduler   *Scheduler
	clock       *clock.Mock
}

func newSchedTestEnv(t *testing.T) *schedTestEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.New(ctx,
		"sqlite://"+filepath.Join(t.TempDir(), "flame.db"))
	require.NoError(t, err)

	err = store.RegisterApplication(ctx, "app", model.ApplicationAttributes{
		Shim:         model.ShimLog,
		MaxInstances: 8,
	})
	require.NoError(t, err)

	clk := clock.NewMock()
	coordinator := binding.NewCoordinator(store, 50*time.Millisecond, clock.New())
	recorder := events.NewRecorder(store)
	policy, err := NewPolicy("proportion")
	require.NoError(t, err)

	sched := New(store, coordinator, recorder, policy, clk, Config{
		TickInterval:        100 * time.Millisecond,
		StarvationThreshold: time.Second,
		LeaseExpiry:         30 * time.Second,
	})

	t.Cleanup(func() {
		coordinator.Close()
		recorder.Close()
		require.NoError(t, store.Close())
	})
	return &schedTestEnv{storage: store, coordinator: coordinator, scheduler: sched, clock: clk}
}

func (env *schedTestEnv) addSession(t *testing.T, id string, tasks, minInstances int) {
	t.Helper()
	ctx := context.Background()
	_, err := env.storage.CreateSession(ctx, id, model.SessionSpec{
		Application: "app", Slots: 1, MinInstances: minInstances,
	})
	require.NoError(t, err)
	for i := 0; i < tasks; i++ {
		_, err := env.storage.CreateTask(ctx, id, nil)
		require.NoError(t, err)
	}
}

func (env *schedTestEnv) addExecutor(t *testing.T, id string, state model.ExecutorState, ssnID string) {
	t.Helper()
	require.NoError(t, env.storage.AddExecutor(&model.Executor{
		ID:          id,
		Slots:       1,
		State:       state,
		Application: "app",
		SessionID:   ssnID,
		LastSeen:    env.clock.Now(),
	}))
}

func TestSchedulerQueuesBindRequests(t *testing.T) {
	env := newSchedTestEnv(t)
	env.addSession(t, "ssn-1", 3, 0)
	env.addExecutor(t, "e1", model.ExecutorIdle, "")

	env.scheduler.RunOnce(context.Background())

	require.Equal(t, 1, env.coordinator.PendingBinds())

	assignment, err := env.coordinator.Acquire(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, "ssn-1", assignment.SessionID)

	exec, err := env.storage.GetExecutor("e1")
	require.NoError(t, err)
	require.Equal(t, model.ExecutorBinding, exec.State)
}

func TestSchedulerPreemptsSurplus(t *testing.T) {
	env := newSchedTestEnv(t)
	// ssn-1 has nothing to do but holds an executor.
	env.addSession(t, "ssn-1", 0, 0)
	env.addExecutor(t, "e1", model.ExecutorBound, "ssn-1")

	env.scheduler.RunOnce(context.Background())

	exec, err := env.storage.GetExecutor("e1")
	require.NoError(t, err)
	require.True(t, exec.PreemptRequested)
}

func TestSchedulerLeaseExpiry(t *testing.T) {
	env := newSchedTestEnv(t)
	ctx := context.Background()
	env.addSession(t, "ssn-1", 1, 0)

	task, err := env.storage.LaunchTask(ctx, "ssn-1")
	require.NoError(t, err)
	require.NotNil(t, task)

	require.NoError(t, env.storage.AddExecutor(&model.Executor{
		ID:          "e1",
		Slots:       1,
		State:       model.ExecutorBound,
		Application: "app",
		SessionID:   "ssn-1",
		TaskID:      task.ID,
		LastSeen:    env.clock.Now(),
	}))

	// Within the lease nothing happens.
	env.scheduler.RunOnce(ctx)
	_, err = env.storage.GetExecutor("e1")
	require.NoError(t, err)

	env.clock.Add(31 * time.Second)
	env.scheduler.RunOnce(ctx)

	_, err = env.storage.GetExecutor("e1")
	require.Error(t, err)

	tasks, err := env.storage.ListTasks(ctx, "ssn-1", model.TaskPending)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, task.ID, tasks[0].ID)
}

func TestSchedulerStarvationRotation(t *testing.T) {
	env := newSchedTestEnv(t)
	ctx := context.Background()

	env.addSession(t, "ssn-1", 10, 1)
	env.addSession(t, "ssn-2", 10, 1)
	env.addExecutor(t, "e1", model.ExecutorBound, "ssn-1")

	// First pass: ssn-2 is starved, timer starts.
	env.scheduler.RunOnce(ctx)
	exec, err := env.storage.GetExecutor("e1")
	require.NoError(t, err)
	require.False(t, exec.PreemptRequested)

	// Past the threshold capacity rotates: e1 is preempted and ssn-2 gets the
	// bind slot.
	env.clock.Add(2 * time.Second)
	env.scheduler.RunOnce(ctx)

	exec, err = env.storage.GetExecutor("e1")
	require.NoError(t, err)
	require.True(t, exec.PreemptRequested)
	require.Equal(t, 1, env.coordinator.PendingBinds())
}
