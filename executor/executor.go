// Package executor implements the per-worker lifecycle state machine:
// idle -> binding -> bound -> unbinding -> idle | void. At most one shim call
// is outstanding at any time, and a preempt is honoured only at a task
// boundary.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/executor/shim"
	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/clock"
	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// Backend is the slice of the session manager's executor-facing API the state
// machine depends on; satisfied by client.BackendClient.
type Backend interface {
	RegisterExecutor(ctx context.Context, id string, slots int) error
	UnregisterExecutor(ctx context.Context, id string) error
	BindExecutor(ctx context.Context, id string) (*flamev1.BindExecutorResponse, error)
	BindExecutorCompleted(ctx context.Context, id string) error
	UnbindExecutor(ctx context.Context, id string) error
	UnbindExecutorCompleted(ctx context.Context, id string) error
	LaunchTask(ctx context.Context, id string) (*flamev1.Task, error)
	CompleteTask(ctx context.Context, id string, task *flamev1.Task, succeed bool, output []byte, hasOutput bool, message string) (*flamev1.Task, error)
}

// ShimFactory builds the shim for a bound application. Tests substitute it.
type ShimFactory func(app *flamev1.Application, cfg shim.Config) (shim.Shim, error)

type Executor struct {
	id      string
	slots   int
	backend Backend
	shimCfg shim.Config
	newShim ShimFactory
	clock   clock.Clock

	state       model.ExecutorState
	application *flamev1.Application
	session     *flamev1.Session
	shim        shim.Shim

	// Warm shim kept through delay_release so a rebind to the same
	// application skips the service restart.
	warmShim  shim.Shim
	warmApp   string
	warmUntil time.Time
}

func New(backend Backend, slots int, shimCfg shim.Config) *Executor {
	return &Executor{
		id:      uuid.NewString(),
		slots:   slots,
		backend: backend,
		shimCfg: shimCfg,
		newShim: shim.New,
		clock:   clock.New(),
		state:   model.ExecutorIdle,
	}
}

func (e *Executor) ID() string                 { return e.id }
func (e *Executor) State() model.ExecutorState { return e.state }

// Run registers the executor and drives the state machine until ctx is done
// or the executor goes Void.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.backend.RegisterExecutor(ctx, e.id, e.slots); err != nil {
		return err
	}
	log.L().Info("executor running", zap.String("executor", e.id), zap.Int("slots", e.slots))

	for {
		if ctx.Err() != nil {
			e.toVoid(context.Background())
			return ctx.Err()
		}

		var err error
		switch e.state {
		case model.ExecutorIdle:
			err = e.onIdle(ctx)
		case model.ExecutorBound:
			err = e.onBound(ctx)
		case model.ExecutorUnbinding:
			err = e.onUnbinding(ctx)
		case model.ExecutorVoid:
			e.toVoid(ctx)
			return nil
		default:
			err = errors.ErrInternal.GenWithStackByArgs(
				"unexpected executor state " + e.state.String())
		}

		if err != nil {
			log.L().Error("executor step failed",
				zap.String("executor", e.id),
				zap.String("state", e.state.String()),
				zap.Error(err))
			e.toVoid(ctx)
			return err
		}
	}
}

// toVoid reports the executor gone and releases whatever it holds.
func (e *Executor) toVoid(ctx context.Context) {
	e.dropWarmShim()
	if e.shim != nil {
		e.shim.Close()
		e.shim = nil
	}

	unregCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.backend.UnregisterExecutor(unregCtx, e.id); err != nil {
		log.L().Warn("unregister failed", zap.String("executor", e.id), zap.Error(err))
	}

	e.state = model.ExecutorVoid
	log.L().Info("executor void", zap.String("executor", e.id))
}

func (e *Executor) dropWarmShim() {
	if e.warmShim != nil {
		e.warmShim.Close()
		e.warmShim = nil
		e.warmApp = ""
	}
}
