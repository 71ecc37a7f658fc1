package executor

import (
	"context"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/executor/shim"
	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
)

const (
	sessionEnterMaxRetries = 5
	sessionEnterRetryDelay = 1 * time.Second
	bindRetryDelay         = 100 * time.Millisecond
)

// onIdle blocks in bind_executor until the scheduler assigns a session, then
// stands the shim up and acknowledges the bind.
func (e *Executor) onIdle(ctx context.Context) error {
	resp, err := e.backend.BindExecutor(ctx, e.id)
	if err != nil {
		// No demand inside the bind wait; drop an expired warm shim and ask
		// again.
		if errors.Is(err, errors.ErrUnavailable) {
			if e.warmShim != nil && e.clock.Now().After(e.warmUntil) {
				log.L().Info("releasing warm service",
					zap.String("executor", e.id),
					zap.String("application", e.warmApp))
				e.dropWarmShim()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.clock.After(bindRetryDelay):
			}
			return nil
		}
		return err
	}

	app := resp.Application
	ssn := resp.Session
	log.L().Info("binding",
		zap.String("executor", e.id),
		zap.String("session", ssn.Metadata.ID),
		zap.String("application", app.Metadata.Name))
	e.state = model.ExecutorBinding

	// A warm service for the same application short-circuits the restart;
	// anything else is stood up fresh.
	var s shim.Shim
	if e.warmShim != nil && e.warmApp == app.Metadata.Name && e.clock.Now().Before(e.warmUntil) {
		s = e.warmShim
		e.warmShim = nil
		e.warmApp = ""
		log.L().Info("reusing warm service",
			zap.String("executor", e.id),
			zap.String("application", app.Metadata.Name))
	} else {
		e.dropWarmShim()
		s, err = e.newShim(app, e.shimCfg)
		if err != nil {
			return err
		}
	}

	ssnCtx := sessionContext(app, ssn)

	var enterErr error
	for attempt := 1; attempt <= sessionEnterMaxRetries; attempt++ {
		enterErr = s.OnSessionEnter(ctx, ssnCtx)
		if enterErr == nil {
			break
		}
		log.L().Warn("session enter failed",
			zap.String("executor", e.id),
			zap.Int("attempt", attempt),
			zap.Error(enterErr))
		if errors.Is(enterErr, errors.ErrShimRefused) {
			break
		}
		if attempt < sessionEnterMaxRetries {
			select {
			case <-ctx.Done():
				s.Close()
				return ctx.Err()
			case <-e.clock.After(time.Duration(attempt*attempt) * sessionEnterRetryDelay):
			}
		}
	}
	if enterErr != nil {
		s.Close()
		return enterErr
	}

	if err := e.backend.BindExecutorCompleted(ctx, e.id); err != nil {
		s.Close()
		return err
	}

	e.shim = s
	e.application = app
	e.session = ssn
	e.state = model.ExecutorBound

	log.L().Info("bound",
		zap.String("executor", e.id),
		zap.String("session", ssn.Metadata.ID))
	return nil
}
