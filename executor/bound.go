package executor

import (
	"context"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// onBound pulls and runs tasks until the session drains or the scheduler
// preempts; either way the signal is an empty launch response, so a running
// task is never interrupted.
func (e *Executor) onBound(ctx context.Context) error {
	task, err := e.backend.LaunchTask(ctx, e.id)
	if err != nil {
		return err
	}

	for task != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		task, err = e.invoke(ctx, task)
		if err != nil {
			return err
		}
	}

	if err := e.backend.UnbindExecutor(ctx, e.id); err != nil {
		return err
	}
	e.state = model.ExecutorUnbinding
	return nil
}

// invoke runs one task through the shim and reports the result; the next task
// may ride back on the completion.
func (e *Executor) invoke(ctx context.Context, task *flamev1.Task) (*flamev1.Task, error) {
	output, err := e.shim.OnTaskInvoke(ctx, taskContext(task))

	switch {
	case err == nil:
		var data []byte
		hasData := false
		if output != nil {
			data = output.Data
			hasData = output.HasData || output.Data != nil
		}
		return e.backend.CompleteTask(ctx, e.id, task, true, data, hasData, "")

	case errors.Is(err, errors.ErrUserError):
		// The task failed in user code; the session and the executor carry on.
		log.L().Info("task failed in user code",
			zap.String("executor", e.id),
			zap.Int64("task", task.TaskID),
			zap.Error(err))
		_, cerr := e.backend.CompleteTask(ctx, e.id, task, false, nil, false, err.Error())
		if cerr != nil {
			return nil, cerr
		}
		// Pull the next task explicitly so one bad task does not stall the
		// session.
		return e.backend.LaunchTask(ctx, e.id)

	default:
		// Transport-level shim failure: fail the task, then tear down through
		// the normal unbind path so the session is rescheduled elsewhere.
		log.L().Error("shim failed mid-task",
			zap.String("executor", e.id),
			zap.Int64("task", task.TaskID),
			zap.Error(err))
		if _, cerr := e.backend.CompleteTask(ctx, e.id, task, false, nil, false, err.Error()); cerr != nil {
			log.L().Warn("complete after shim failure", zap.Error(cerr))
		}
		return nil, err
	}
}
