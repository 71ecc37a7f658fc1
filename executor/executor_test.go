package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/k82cn/flame/executor/shim"
	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// fakeBackend hands out one session and a fixed queue of tasks, then reports
// what the state machine did.
type fakeBackend struct {
	mu sync.Mutex

	session *flamev1.Session
	app     *flamev1.Application
	tasks   []*flamev1.Task

	registered   bool
	unregistered bool
	bindDone     bool
	unbindReq    bool
	unbindDone   bool
	completed    []completion

	// binds counts BindExecutor calls; after the session is handed out once,
	// further calls return Unavailable.
	binds int
}

type completion struct {
	taskID  int64
	succeed bool
	output  []byte
	message string
}

func newFakeBackend(appName string, inputs ...string) *fakeBackend {
	app := &flamev1.Application{
		Metadata: &flamev1.Metadata{ID: appName, Name: appName},
		Spec:     &flamev1.ApplicationSpec{Shim: "log"},
		Status:   &flamev1.ApplicationStatus{},
	}
	ssn := &flamev1.Session{
		Metadata: &flamev1.Metadata{ID: "ssn-1"},
		Spec:     &flamev1.SessionSpec{Application: appName, Slots: 1},
		Status:   &flamev1.SessionStatus{},
	}
	b := &fakeBackend{session: ssn, app: app}
	for i, input := range inputs {
		b.tasks = append(b.tasks, &flamev1.Task{
			Metadata: &flamev1.Metadata{ID: "ssn-1/" + input},
			Spec:     &flamev1.TaskSpec{SessionID: "ssn-1", Input: []byte(input), HasInput: true},
			Status:   &flamev1.TaskStatus{},
			TaskID:   int64(i + 1),
		})
	}
	return b
}

func (b *fakeBackend) RegisterExecutor(_ context.Context, id string, slots int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = true
	return nil
}

func (b *fakeBackend) UnregisterExecutor(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unregistered = true
	return nil
}

func (b *fakeBackend) BindExecutor(_ context.Context, id string) (*flamev1.BindExecutorResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.binds++
	if b.binds > 1 {
		return nil, errors.ErrUnavailable.GenWithStackByArgs("no demand")
	}
	return &flamev1.BindExecutorResponse{Application: b.app, Session: b.session}, nil
}

func (b *fakeBackend) BindExecutorCompleted(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindDone = true
	return nil
}

func (b *fakeBackend) UnbindExecutor(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbindReq = true
	return nil
}

func (b *fakeBackend) UnbindExecutorCompleted(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbindDone = true
	return nil
}

func (b *fakeBackend) LaunchTask(_ context.Context, id string) (*flamev1.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.tasks) == 0 {
		return nil, nil
	}
	task := b.tasks[0]
	b.tasks = b.tasks[1:]
	return task, nil
}

func (b *fakeBackend) CompleteTask(
	_ context.Context, id string, task *flamev1.Task, succeed bool, output []byte, hasOutput bool, message string,
) (*flamev1.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = append(b.completed, completion{
		taskID: task.TaskID, succeed: succeed, output: output, message: message,
	})
	if succeed && len(b.tasks) > 0 {
		next := b.tasks[0]
		b.tasks = b.tasks[1:]
		return next, nil
	}
	return nil, nil
}

type backendState struct {
	registered   bool
	unregistered bool
	bindDone     bool
	unbindReq    bool
	unbindDone   bool
	completed    []completion
}

func (b *fakeBackend) snapshot() backendState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return backendState{
		registered:   b.registered,
		unregistered: b.unregistered,
		bindDone:     b.bindDone,
		unbindReq:    b.unbindReq,
		unbindDone:   b.unbindDone,
		completed:    append([]completion(nil), b.completed...),
	}
}

// fakeShim scripts per-call results.
type fakeShim struct {
	mu        sync.Mutex
	enterErr  error
	invokeErr error
	leaveErr  error

	enters  int
	invokes int
	leaves  int
	closed  bool
}

func (s *fakeShim) OnSessionEnter(_ context.Context, _ *flamev1.SessionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enters++
	return s.enterErr
}

func (s *fakeShim) OnTaskInvoke(_ context.Context, task *flamev1.TaskContext) (*flamev1.TaskOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokes++
	if s.invokeErr != nil {
		return nil, s.invokeErr
	}
	return &flamev1.TaskOutput{Data: append([]byte("out-"), task.Input...), HasData: true}, nil
}

func (s *fakeShim) OnSessionLeave(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves++
	return s.leaveErr
}

func (s *fakeShim) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func newTestExecutor(backend Backend, fake *fakeShim) *Executor {
	exec := New(backend, 1, shim.Config{})
	exec.newShim = func(_ *flamev1.Application, _ shim.Config) (shim.Shim, error) {
		return fake, nil
	}
	return exec
}

func TestExecutorHappyPath(t *testing.T) {
	backend := newFakeBackend("app", "1", "2", "3")
	fake := &fakeShim{}
	exec := newTestExecutor(backend, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- exec.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return backend.snapshot().unbindDone
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	got := backend.snapshot()
	require.True(t, got.registered)
	require.True(t, got.bindDone)
	require.Len(t, got.completed, 3)
	for i, c := range got.completed {
		require.Equal(t, int64(i+1), c.taskID)
		require.True(t, c.succeed)
		require.Equal(t, append([]byte("out-"), byte('1'+i)), c.output)
	}
	require.Equal(t, 1, fake.enters)
	require.Equal(t, 3, fake.invokes)
	require.Equal(t, 1, fake.leaves)
}

func TestExecutorEnterFailureGoesVoid(t *testing.T) {
	backend := newFakeBackend("app", "1")
	fake := &fakeShim{enterErr: errors.ErrShimRefused.GenWithStackByArgs("no thanks")}
	exec := newTestExecutor(backend, fake)

	err := exec.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, model.ExecutorVoid, exec.State())

	got := backend.snapshot()
	require.True(t, got.unregistered)
	require.Empty(t, got.completed)
	require.True(t, fake.closed)
}

func TestExecutorUserErrorFailsTaskOnly(t *testing.T) {
	backend := newFakeBackend("app", "1", "2")
	fake := &fakeShim{invokeErr: errors.ErrUserError.GenWithStackByArgs()}
	exec := newTestExecutor(backend, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- exec.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return backend.snapshot().unbindDone
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	got := backend.snapshot()
	require.Len(t, got.completed, 2)
	for _, c := range got.completed {
		require.False(t, c.succeed)
		require.NotEmpty(t, c.message)
	}
	// The session was left through the normal unbind path, not torn down.
	require.True(t, got.unbindReq)
	require.Equal(t, 1, fake.leaves)
}

func TestExecutorShimTransportGoesVoid(t *testing.T) {
	backend := newFakeBackend("app", "1", "2")
	fake := &fakeShim{invokeErr: errors.ErrShimTransport.GenWithStackByArgs("pipe broke")}
	exec := newTestExecutor(backend, fake)

	err := exec.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, model.ExecutorVoid, exec.State())

	got := backend.snapshot()
	// The in-flight task was failed before the teardown.
	require.Len(t, got.completed, 1)
	require.False(t, got.completed[0].succeed)
	require.True(t, got.unregistered)
}
