package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(context.Background(),
		"sqlite://"+filepath.Join(t.TempDir(), "flame.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func registerApp(t *testing.T, s *Storage, name string) {
	t.Helper()
	err := s.RegisterApplication(context.Background(), name, model.ApplicationAttributes{
		Shim:         model.ShimLog,
		MaxInstances: 8,
	})
	require.NoError(t, err)
}

func TestDefaultApplicationsSeeded(t *testing.T) {
	s := newTestStorage(t)

	apps, err := s.ListApplications(context.Background())
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, app := range apps {
		names[app.Name] = true
	}
	require.True(t, names["flmexec"])
	require.True(t, names["flmping"])
}

func TestOpenSessionCachedPath(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	registerApp(t, s, "app")

	spec := model.SessionSpec{Application: "app", Slots: 1, MaxInstances: 10}
	ssn, err := s.OpenSession(ctx, "sess-1", &spec)
	require.NoError(t, err)

	// Second open answers from cache, still validating the spec.
	again, err := s.OpenSession(ctx, "sess-1", &spec)
	require.NoError(t, err)
	require.Equal(t, ssn.ID, again.ID)

	bad := spec
	bad.MaxInstances = 20
	_, err = s.OpenSession(ctx, "sess-1", &bad)
	require.True(t, errors.Is(err, errors.ErrInvalidArgument))
	require.Contains(t, err.Error(), "max_instances")
}

func TestCountersMatchTaskHistogram(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	registerApp(t, s, "app")

	ssn, err := s.CreateSession(ctx, "ssn-1", model.SessionSpec{Application: "app", Slots: 1})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.CreateTask(ctx, ssn.ID, []byte{byte('1' + i)})
		require.NoError(t, err)
	}

	task, err := s.LaunchTask(ctx, ssn.ID)
	require.NoError(t, err)
	_, err = s.CompleteTask(ctx, task.GID(), model.TaskSucceed, []byte("out"), "")
	require.NoError(t, err)

	task, err = s.LaunchTask(ctx, ssn.ID)
	require.NoError(t, err)
	_, err = s.CompleteTask(ctx, task.GID(), model.TaskFailed, nil, "boom")
	require.NoError(t, err)

	cached, err := s.GetSession(ctx, ssn.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusCounters{Pending: 3, Succeed: 1, Failed: 1}, cached.Counters)

	// The durable row agrees with the cache.
	tasks, err := s.ListTasks(ctx, ssn.ID)
	require.NoError(t, err)
	hist := model.TaskStatusCounters{}
	for _, task := range tasks {
		switch task.State {
		case model.TaskPending:
			hist.Pending++
		case model.TaskRunning:
			hist.Running++
		case model.TaskSucceed:
			hist.Succeed++
		case model.TaskFailed:
			hist.Failed++
		}
	}
	require.Equal(t, cached.Counters, hist)
	require.Equal(t, len(tasks), cached.Counters.Total())
}

func TestWatchTaskObservesPendingFirst(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	registerApp(t, s, "app")

	ssn, err := s.CreateSession(ctx, "ssn-1", model.SessionSpec{Application: "app", Slots: 1})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, ssn.ID, nil)
	require.NoError(t, err)

	snapshot, receiver, err := s.WatchTask(ctx, task.GID())
	require.NoError(t, err)
	require.NotNil(t, receiver)
	defer receiver.Close()
	require.Equal(t, model.TaskPending, snapshot.State)

	launched, err := s.LaunchTask(ctx, ssn.ID)
	require.NoError(t, err)
	_, err = s.CompleteTask(ctx, launched.GID(), model.TaskSucceed, []byte("ok"), "")
	require.NoError(t, err)

	var states []model.TaskState
	deadline := time.After(2 * time.Second)
	for len(states) < 2 {
		select {
		case got := <-receiver.C:
			if got.ID == task.ID {
				states = append(states, got.State)
			}
		case <-deadline:
			t.Fatal("timed out waiting for watch updates")
		}
	}
	require.Equal(t, []model.TaskState{model.TaskRunning, model.TaskSucceed}, states)
}

func TestCloseSessionWakesWatchers(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	registerApp(t, s, "app")

	ssn, err := s.CreateSession(ctx, "ssn-1", model.SessionSpec{Application: "app", Slots: 1})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, ssn.ID, nil)
	require.NoError(t, err)

	_, receiver, err := s.WatchTask(ctx, task.GID())
	require.NoError(t, err)
	require.NotNil(t, receiver)
	defer receiver.Close()

	_, err = s.CloseSession(ctx, ssn.ID)
	require.NoError(t, err)

	select {
	case got := <-receiver.C:
		require.Equal(t, model.TaskFailed, got.State)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not woken by close")
	}
}

func TestExecutorIndex(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.AddExecutor(&model.Executor{ID: "e1", Slots: 1, State: model.ExecutorIdle}))
	err := s.AddExecutor(&model.Executor{ID: "e1"})
	require.True(t, errors.Is(err, errors.ErrConflict))

	require.NoError(t, s.UpdateExecutor("e1", func(e *model.Executor) error {
		e.State = model.ExecutorBound
		e.SessionID = "ssn-1"
		return nil
	}))

	exec, err := s.GetExecutor("e1")
	require.NoError(t, err)
	require.Equal(t, model.ExecutorBound, exec.State)

	require.Equal(t, 1, s.ExecutorCount())
	s.RemoveExecutor("e1")
	_, err = s.GetExecutor("e1")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSnapshotOrderAndAllocation(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	registerApp(t, s, "app")

	for _, id := range []string{"ssn-a", "ssn-b"} {
		_, err := s.CreateSession(ctx, id, model.SessionSpec{Application: "app", Slots: 1})
		require.NoError(t, err)
	}
	require.NoError(t, s.AddExecutor(&model.Executor{
		ID: "e1", Slots: 1, State: model.ExecutorBound,
		Application: "app", SessionID: "ssn-a",
	}))

	snap := s.Snapshot()
	require.Len(t, snap.Sessions, 2)
	require.Equal(t, "ssn-a", snap.Sessions[0].ID)
	require.Equal(t, 1, snap.Sessions[0].Allocated)
	require.Equal(t, 0, snap.Sessions[1].Allocated)
	require.Contains(t, snap.Applications, "app")
	require.Len(t, snap.Executors, 1)
}

func TestRestartRequeuesRunningTasks(t *testing.T) {
	dir := t.TempDir()
	dsn := "sqlite://" + filepath.Join(dir, "flame.db")
	ctx := context.Background()

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	registerApp(t, s, "app")

	ssn, err := s.CreateSession(ctx, "ssn-1", model.SessionSpec{Application: "app", Slots: 1})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, ssn.ID, nil)
	require.NoError(t, err)
	launched, err := s.LaunchTask(ctx, ssn.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskRunning, launched.State)
	require.NoError(t, s.Close())

	// A fresh process over the same storage sees the task Pending again and
	// the counters reconciled.
	restarted, err := New(ctx, dsn)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, restarted.Close())
	}()

	tasks, err := restarted.ListTasks(ctx, ssn.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, model.TaskPending, tasks[0].State)

	reloaded, err := restarted.GetSession(ctx, ssn.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusCounters{Pending: 1}, reloaded.Counters)
}
