package executor

import (
	"context"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/model"
)

// onUnbinding leaves the session and returns the executor to Idle. With a
// delay_release grace the service stays warm for a rebind to the same
// application; otherwise it is closed here.
func (e *Executor) onUnbinding(ctx context.Context) error {
	if err := e.shim.OnSessionLeave(ctx); err != nil {
		return err
	}

	if err := e.backend.UnbindExecutorCompleted(ctx, e.id); err != nil {
		return err
	}

	delay := time.Duration(e.application.Spec.DelayReleaseMs) * time.Millisecond
	if delay > 0 {
		e.dropWarmShim()
		e.warmShim = e.shim
		e.warmApp = e.application.Metadata.Name
		e.warmUntil = e.clock.Now().Add(delay)
		log.L().Info("keeping service warm",
			zap.String("executor", e.id),
			zap.String("application", e.warmApp),
			zap.Duration("delay-release", delay))
	} else {
		e.shim.Close()
	}

	log.L().Info("unbound",
		zap.String("executor", e.id),
		zap.String("session", e.session.Metadata.ID))

	e.shim = nil
	e.application = nil
	e.session = nil
	e.state = model.ExecutorIdle
	return nil
}
