package sessionmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/events"
	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
	"github.com/k82cn/flame/scheduler/binding"
	"github.com/k82cn/flame/storage"
)

// backendService is the executor-facing RPC surface. Every call refreshes the
// executor's lease; all operations are idempotent against re-invocation with
// the same (executor, state).
type backendService struct {
	storage     *storage.Storage
	coordinator *binding.Coordinator
	scheduler   trigger
	recorder    *events.Recorder

	maxExecutors int
}

var _ flamev1.BackendServer = &backendService{}

func newBackendService(
	store *storage.Storage,
	coordinator *binding.Coordinator,
	sched trigger,
	recorder *events.Recorder,
	maxExecutors int,
) *backendService {
	return &backendService{
		storage:      store,
		coordinator:  coordinator,
		scheduler:    sched,
		recorder:     recorder,
		maxExecutors: maxExecutors,
	}
}

func (b *backendService) touch(id model.ExecutorID) {
	_ = b.storage.UpdateExecutor(id, func(e *model.Executor) error {
		e.LastSeen = time.Now()
		return nil
	})
}

func (b *backendService) RegisterExecutor(
	ctx context.Context, req *flamev1.RegisterExecutorRequest,
) (*flamev1.Empty, error) {
	if req.ExecutorID == "" {
		return nil, errors.ToGRPCError(
			errors.ErrInvalidArgument.GenWithStackByArgs("executor id is required"))
	}
	slots := 1
	if req.Spec != nil && req.Spec.Slots > 0 {
		slots = int(req.Spec.Slots)
	}

	if b.storage.ExecutorCount() >= b.maxExecutors {
		return nil, errors.ToGRPCError(errors.ErrUnavailable.GenWithStackByArgs(
			fmt.Sprintf("executor cap %d reached", b.maxExecutors)))
	}

	err := b.storage.AddExecutor(&model.Executor{
		ID:           req.ExecutorID,
		Slots:        slots,
		State:        model.ExecutorIdle,
		LastSeen:     time.Now(),
		CreationTime: time.Now(),
	})
	if err != nil {
		// Re-registration of a live executor is a no-op.
		if errors.Is(err, errors.ErrConflict) {
			b.touch(req.ExecutorID)
			return &flamev1.Empty{}, nil
		}
		return nil, errors.ToGRPCError(err)
	}

	b.scheduler.Trigger()
	log.L().Info("executor registered",
		zap.String("executor", req.ExecutorID), zap.Int("slots", slots))
	return &flamev1.Empty{}, nil
}

func (b *backendService) UnregisterExecutor(
	ctx context.Context, req *flamev1.UnregisterExecutorRequest,
) (*flamev1.Empty, error) {
	exec, err := b.storage.GetExecutor(req.ExecutorID)
	if err != nil {
		// Already gone; unregister is idempotent.
		return &flamev1.Empty{}, nil
	}

	b.storage.RemoveExecutor(req.ExecutorID)
	b.recorder.Record(string(exec.ID), exec.SessionID, model.EventExecutorVoid,
		"executor unregistered")

	// A task the executor held in flight becomes re-dispatchable.
	if exec.State == model.ExecutorBound && exec.TaskID > 0 && exec.SessionID != "" {
		gid := model.TaskGID{SessionID: exec.SessionID, TaskID: exec.TaskID}
		if _, err := b.storage.RetryTask(ctx, gid); err != nil {
			log.L().Error("requeue on unregister failed",
				zap.String("task", gid.String()), zap.Error(err))
		}
	}

	b.scheduler.Trigger()
	log.L().Info("executor unregistered", zap.String("executor", req.ExecutorID))
	return &flamev1.Empty{}, nil
}

// BindExecutor blocks until the scheduler selects a session for the executor
// or the configured bind wait expires with Unavailable.
func (b *backendService) BindExecutor(
	ctx context.Context, req *flamev1.BindExecutorRequest,
) (*flamev1.BindExecutorResponse, error) {
	b.touch(req.ExecutorID)

	assignment, err := b.coordinator.Acquire(ctx, req.ExecutorID)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}

	app, err := b.storage.GetApplication(ctx, assignment.Application)
	if err != nil {
		b.resetToIdle(req.ExecutorID)
		return nil, errors.ToGRPCError(err)
	}
	ssn, err := b.storage.GetSession(ctx, assignment.SessionID)
	if err != nil {
		b.resetToIdle(req.ExecutorID)
		return nil, errors.ToGRPCError(err)
	}

	b.recorder.Record(req.ExecutorID, ssn.ID, model.EventBindRequested,
		fmt.Sprintf("executor bound toward session <%s>", ssn.ID))

	return &flamev1.BindExecutorResponse{
		Application: app.ToPB(),
		Session:     ssn.ToPB(),
	}, nil
}

func (b *backendService) resetToIdle(id model.ExecutorID) {
	_ = b.storage.UpdateExecutor(id, func(e *model.Executor) error {
		e.State = model.ExecutorIdle
		e.Application = ""
		e.SessionID = ""
		e.TaskID = 0
		return nil
	})
}

func (b *backendService) BindExecutorCompleted(
	ctx context.Context, req *flamev1.BindExecutorCompletedRequest,
) (*flamev1.Empty, error) {
	b.touch(req.ExecutorID)

	err := b.storage.UpdateExecutor(req.ExecutorID, func(e *model.Executor) error {
		switch e.State {
		case model.ExecutorBound:
			return nil
		case model.ExecutorBinding:
			e.State = model.ExecutorBound
			return nil
		default:
			return errors.ErrInvalidState.GenWithStackByArgs(
				fmt.Sprintf("executor <%s> is <%s>, not binding", e.ID, e.State))
		}
	})
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}

	exec, _ := b.storage.GetExecutor(req.ExecutorID)
	if exec != nil {
		b.recorder.Record(req.ExecutorID, exec.SessionID, model.EventBindCompleted,
			"session enter acknowledged")
	}
	return &flamev1.Empty{}, nil
}

func (b *backendService) UnbindExecutor(
	ctx context.Context, req *flamev1.UnbindExecutorRequest,
) (*flamev1.Empty, error) {
	b.touch(req.ExecutorID)

	err := b.storage.UpdateExecutor(req.ExecutorID, func(e *model.Executor) error {
		switch e.State {
		case model.ExecutorUnbinding:
			return nil
		case model.ExecutorBound, model.ExecutorBinding:
			e.State = model.ExecutorUnbinding
			return nil
		default:
			return errors.ErrInvalidState.GenWithStackByArgs(
				fmt.Sprintf("executor <%s> is <%s>, not bound", e.ID, e.State))
		}
	})
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}

	exec, _ := b.storage.GetExecutor(req.ExecutorID)
	if exec != nil {
		b.recorder.Record(req.ExecutorID, exec.SessionID, model.EventUnbindRequested,
			"session leave started")
	}
	return &flamev1.Empty{}, nil
}

func (b *backendService) UnbindExecutorCompleted(
	ctx context.Context, req *flamev1.UnbindExecutorCompletedRequest,
) (*flamev1.Empty, error) {
	b.touch(req.ExecutorID)

	err := b.storage.UpdateExecutor(req.ExecutorID, func(e *model.Executor) error {
		switch e.State {
		case model.ExecutorIdle:
			return nil
		case model.ExecutorUnbinding:
			e.State = model.ExecutorIdle
			e.Application = ""
			e.SessionID = ""
			e.TaskID = 0
			e.PreemptRequested = false
			return nil
		default:
			return errors.ErrInvalidState.GenWithStackByArgs(
				fmt.Sprintf("executor <%s> is <%s>, not unbinding", e.ID, e.State))
		}
	})
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}

	b.scheduler.Trigger()
	return &flamev1.Empty{}, nil
}

// LaunchTask pulls the next Pending task of the executor's bound session. An
// empty response tells the executor it may unbind: either nothing is pending
// or the scheduler preempted it at this task boundary.
func (b *backendService) LaunchTask(
	ctx context.Context, req *flamev1.LaunchTaskRequest,
) (*flamev1.LaunchTaskResponse, error) {
	b.touch(req.ExecutorID)

	exec, err := b.storage.GetExecutor(req.ExecutorID)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	if exec.State != model.ExecutorBound {
		return nil, errors.ToGRPCError(errors.ErrInvalidState.GenWithStackByArgs(
			fmt.Sprintf("executor <%s> is <%s>, not bound", exec.ID, exec.State)))
	}
	if exec.PreemptRequested {
		return &flamev1.LaunchTaskResponse{}, nil
	}

	task, err := b.storage.LaunchTask(ctx, exec.SessionID)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	if task == nil {
		return &flamev1.LaunchTaskResponse{}, nil
	}

	if err := b.storage.UpdateExecutor(req.ExecutorID, func(e *model.Executor) error {
		e.TaskID = task.ID
		return nil
	}); err != nil {
		return nil, errors.ToGRPCError(err)
	}

	return &flamev1.LaunchTaskResponse{Task: task.ToPB()}, nil
}

// CompleteTask applies the terminal transition for the executor's in-flight
// task. When the session still has pending work and no preemption is due, the
// next task rides back in the same response.
func (b *backendService) CompleteTask(
	ctx context.Context, req *flamev1.CompleteTaskRequest,
) (*flamev1.CompleteTaskResponse, error) {
	b.touch(req.ExecutorID)

	exec, err := b.storage.GetExecutor(req.ExecutorID)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	if exec.State != model.ExecutorBound {
		return nil, errors.ToGRPCError(errors.ErrInvalidState.GenWithStackByArgs(
			fmt.Sprintf("executor <%s> is <%s>, not bound", exec.ID, exec.State)))
	}

	// The request names its task so a retried completion after a lost
	// response stays a no-op instead of hitting a newly launched task.
	gid := model.TaskGID{SessionID: exec.SessionID, TaskID: exec.TaskID}
	if req.TaskID > 0 {
		gid = model.TaskGID{SessionID: req.SessionID, TaskID: req.TaskID}
		if gid.SessionID == "" {
			gid.SessionID = exec.SessionID
		}
	}
	if gid.TaskID == 0 {
		return nil, errors.ToGRPCError(errors.ErrInvalidState.GenWithStackByArgs(
			fmt.Sprintf("executor <%s> has no task in flight", exec.ID)))
	}
	if gid.SessionID != exec.SessionID {
		return nil, errors.ToGRPCError(errors.ErrInvalidArgument.GenWithStackByArgs(
			fmt.Sprintf("task <%s> does not belong to the bound session", gid)))
	}

	state := model.TaskSucceed
	if !req.Succeed {
		state = model.TaskFailed
	}
	var output []byte
	if req.HasOutput {
		output = req.Output
		if output == nil {
			output = []byte{}
		}
	}

	if _, err := b.storage.CompleteTask(ctx, gid, state, output, req.Message); err != nil {
		return nil, errors.ToGRPCError(err)
	}

	if err := b.storage.UpdateExecutor(req.ExecutorID, func(e *model.Executor) error {
		if e.TaskID == gid.TaskID {
			e.TaskID = 0
		}
		return nil
	}); err != nil {
		return nil, errors.ToGRPCError(err)
	}

	resp := &flamev1.CompleteTaskResponse{}
	if !exec.PreemptRequested && gid.TaskID == exec.TaskID {
		next, err := b.storage.LaunchTask(ctx, exec.SessionID)
		if err == nil && next != nil {
			if err := b.storage.UpdateExecutor(req.ExecutorID, func(e *model.Executor) error {
				e.TaskID = next.ID
				return nil
			}); err == nil {
				resp.NextTask = next.ToPB()
			}
		}
	}
	return resp, nil
}
