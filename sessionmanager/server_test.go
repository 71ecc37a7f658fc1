package sessionmanager

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/k82cn/flame/client"
	"github.com/k82cn/flame/events"
	"github.com/k82cn/flame/executor"
	"github.com/k82cn/flame/executor/shim"
	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/clock"
	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
	"github.com/k82cn/flame/scheduler"
	"github.com/k82cn/flame/scheduler/binding"
	"github.com/k82cn/flame/storage"
)

type testCluster struct {
	frontend *client.FrontendClient
	backend  *client.BackendClient
	storage  *storage.Storage
}

func newTestCluster(t *testing.T) *testCluster {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store, err := storage.New(ctx,
		"sqlite://"+filepath.Join(t.TempDir(), "flame.db"))
	require.NoError(t, err)

	recorder := events.NewRecorder(store)
	coordinator := binding.NewCoordinator(store, 200*time.Millisecond, clock.New())
	policy, err := scheduler.NewPolicy("proportion")
	require.NoError(t, err)
	sched := scheduler.New(store, coordinator, recorder, policy, clock.New(), scheduler.Config{
		TickInterval:        20 * time.Millisecond,
		StarvationThreshold: 500 * time.Millisecond,
		LeaseExpiry:         30 * time.Second,
	})
	go func() {
		_ = sched.Run(ctx)
	}()

	frontendLis := bufconn.Listen(1 << 20)
	backendLis := bufconn.Listen(1 << 20)

	frontendSrv := grpc.NewServer()
	flamev1.RegisterFrontendServer(frontendSrv, newFrontendService(store, sched, 1, "host"))
	backendSrv := grpc.NewServer()
	flamev1.RegisterBackendServer(backendSrv,
		newBackendService(store, coordinator, sched, recorder, 16))

	go func() { _ = frontendSrv.Serve(frontendLis) }()
	go func() { _ = backendSrv.Serve(backendLis) }()

	dial := func(lis *bufconn.Listener) *grpc.ClientConn {
		conn, err := grpc.Dial("bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(flamev1.CodecName)),
		)
		require.NoError(t, err)
		return conn
	}

	frontendConn := dial(frontendLis)
	backendConn := dial(backendLis)

	cluster := &testCluster{
		frontend: client.NewFrontendClientWithConn(frontendConn),
		backend:  client.NewBackendClientWithConn(backendConn),
		storage:  store,
	}

	t.Cleanup(func() {
		cancel()
		frontendSrv.Stop()
		backendSrv.Stop()
		_ = frontendConn.Close()
		_ = backendConn.Close()
		coordinator.Close()
		recorder.Close()
		_ = store.Close()
	})
	return cluster
}

func registerLogApp(t *testing.T, cluster *testCluster, name string, maxInstances int) {
	t.Helper()
	_, err := cluster.frontend.Cli.RegisterApplication(context.Background(),
		&flamev1.RegisterApplicationRequest{
			Name: name,
			Spec: &flamev1.ApplicationSpec{Shim: "log", MaxInstances: int32(maxInstances)},
		})
	require.NoError(t, err)
}

// Happy path: five tasks, two executors, everything succeeds and the
// counters reconcile.
func TestClusterHappyPath(t *testing.T) {
	cluster := newTestCluster(t)
	ctx := context.Background()

	registerLogApp(t, cluster, "A", 4)

	ssn, err := cluster.frontend.Cli.OpenSession(ctx, &flamev1.OpenSessionRequest{
		SessionID: "s1",
		Spec:      &flamev1.SessionSpec{Application: "A", Slots: 1},
	})
	require.NoError(t, err)
	require.Equal(t, "s1", ssn.Metadata.ID)

	for _, input := range []string{"1", "2", "3", "4", "5"} {
		_, err := cluster.frontend.Cli.CreateTask(ctx, &flamev1.CreateTaskRequest{
			SessionID: "s1",
			Input:     []byte(input),
			HasInput:  true,
		})
		require.NoError(t, err)
	}

	execCtx, execCancel := context.WithCancel(ctx)
	defer execCancel()
	mgr := executor.NewManager(cluster.backend, 2, 1, shim.Config{})
	go func() { _ = mgr.Run(execCtx) }()

	require.Eventually(t, func() bool {
		got, err := cluster.frontend.Cli.GetSession(ctx, &flamev1.GetSessionRequest{SessionID: "s1"})
		if err != nil {
			return false
		}
		return got.Status.Succeed == 5 && got.Status.Pending == 0 && got.Status.Running == 0
	}, 15*time.Second, 50*time.Millisecond)

	// Outputs are non-empty (the log shim echoes inputs).
	tasks, err := cluster.frontend.Cli.ListTasks(ctx, &flamev1.ListTasksRequest{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, tasks.Tasks, 5)
	for _, task := range tasks.Tasks {
		require.Equal(t, int32(model.TaskSucceed), task.Status.State)
		require.NotEmpty(t, task.Output)
	}
}

// Get-or-create semantics over the wire, mismatch names the field.
func TestClusterOpenSessionIdempotent(t *testing.T) {
	cluster := newTestCluster(t)
	ctx := context.Background()

	registerLogApp(t, cluster, "A", 4)

	spec := &flamev1.SessionSpec{Application: "A", Slots: 1, MaxInstances: 10}
	first, err := cluster.frontend.Cli.OpenSession(ctx,
		&flamev1.OpenSessionRequest{SessionID: "sess-1", Spec: spec})
	require.NoError(t, err)

	second, err := cluster.frontend.Cli.OpenSession(ctx,
		&flamev1.OpenSessionRequest{SessionID: "sess-1", Spec: spec})
	require.NoError(t, err)
	require.Equal(t, first.Metadata.ID, second.Metadata.ID)

	_, err = cluster.frontend.Cli.OpenSession(ctx, &flamev1.OpenSessionRequest{
		SessionID: "sess-1",
		Spec:      &flamev1.SessionSpec{Application: "A", Slots: 2, MaxInstances: 10},
	})
	mapped := errors.FromGRPCError(err)
	require.True(t, errors.Is(mapped, errors.ErrInvalidArgument))
	require.Contains(t, mapped.Error(), "slots")
}

// Close with pending tasks: they fail, and no new task is accepted.
func TestClusterCloseWithPending(t *testing.T) {
	cluster := newTestCluster(t)
	ctx := context.Background()

	registerLogApp(t, cluster, "A", 4)

	_, err := cluster.frontend.Cli.CreateSession(ctx, &flamev1.CreateSessionRequest{
		SessionID: "s1",
		Spec:      &flamev1.SessionSpec{Application: "A", Slots: 1},
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := cluster.frontend.Cli.CreateTask(ctx,
			&flamev1.CreateTaskRequest{SessionID: "s1"})
		require.NoError(t, err)
	}

	closed, err := cluster.frontend.Cli.CloseSession(ctx,
		&flamev1.CloseSessionRequest{SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, int32(model.SessionClosed), closed.Status.State)
	require.Equal(t, int32(3), closed.Status.Failed)
	require.Equal(t, int32(0), closed.Status.Pending)

	_, err = cluster.frontend.Cli.CreateTask(ctx,
		&flamev1.CreateTaskRequest{SessionID: "s1"})
	require.True(t, errors.Is(errors.FromGRPCError(err), errors.ErrInvalidState))
}

// Watch observes Pending before the terminal state.
func TestClusterWatchTask(t *testing.T) {
	cluster := newTestCluster(t)
	ctx := context.Background()

	registerLogApp(t, cluster, "A", 4)

	_, err := cluster.frontend.Cli.CreateSession(ctx, &flamev1.CreateSessionRequest{
		SessionID: "s1",
		Spec:      &flamev1.SessionSpec{Application: "A", Slots: 1},
	})
	require.NoError(t, err)
	task, err := cluster.frontend.Cli.CreateTask(ctx, &flamev1.CreateTaskRequest{
		SessionID: "s1", Input: []byte("in"), HasInput: true,
	})
	require.NoError(t, err)

	watchCtx, watchCancel := context.WithTimeout(ctx, 15*time.Second)
	defer watchCancel()
	stream, err := cluster.frontend.Cli.WatchTask(watchCtx,
		&flamev1.WatchTaskRequest{SessionID: "s1", TaskID: task.TaskID})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, int32(model.TaskPending), first.Status.State)

	execCtx, execCancel := context.WithCancel(ctx)
	defer execCancel()
	mgr := executor.NewManager(cluster.backend, 1, 1, shim.Config{})
	go func() { _ = mgr.Run(execCtx) }()

	var last int32
	for {
		snap, err := stream.Recv()
		if err != nil {
			break
		}
		require.GreaterOrEqual(t, snap.Status.State, last)
		last = snap.Status.State
		if model.TaskState(last).Terminal() {
			break
		}
	}
	require.Equal(t, int32(model.TaskSucceed), last)
}

// An executor that vanishes silently has its task requeued once the lease
// expires; unregister covers the graceful path here.
func TestClusterUnregisterRequeues(t *testing.T) {
	cluster := newTestCluster(t)
	ctx := context.Background()

	registerLogApp(t, cluster, "A", 4)
	_, err := cluster.frontend.Cli.CreateSession(ctx, &flamev1.CreateSessionRequest{
		SessionID: "s1",
		Spec:      &flamev1.SessionSpec{Application: "A", Slots: 1},
	})
	require.NoError(t, err)
	_, err = cluster.frontend.Cli.CreateTask(ctx,
		&flamev1.CreateTaskRequest{SessionID: "s1"})
	require.NoError(t, err)

	// Drive the bind protocol by hand so the task is left Running.
	require.NoError(t, cluster.backend.RegisterExecutor(ctx, "e1", 1))
	resp, err := cluster.backend.BindExecutor(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, "s1", resp.Session.Metadata.ID)
	require.NoError(t, cluster.backend.BindExecutorCompleted(ctx, "e1"))

	task, err := cluster.backend.LaunchTask(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, task)

	require.NoError(t, cluster.backend.UnregisterExecutor(ctx, "e1"))

	got, err := cluster.frontend.Cli.GetTask(ctx,
		&flamev1.GetTaskRequest{SessionID: "s1", TaskID: task.TaskID})
	require.NoError(t, err)
	require.Equal(t, int32(model.TaskPending), got.Status.State)
}
