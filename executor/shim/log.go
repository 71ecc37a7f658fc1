package shim

import (
	"context"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// logShim is the no-op variant for logging workloads: it acknowledges every
// call and echoes the task input as output.
type logShim struct {
	application string
	session     string
}

func newLogShim(app *flamev1.Application) *logShim {
	return &logShim{application: app.Metadata.Name}
}

func (s *logShim) OnSessionEnter(_ context.Context, ssn *flamev1.SessionContext) error {
	s.session = ssn.SessionID
	log.L().Info("session enter",
		zap.String("application", s.application),
		zap.String("session", ssn.SessionID))
	return nil
}

func (s *logShim) OnTaskInvoke(_ context.Context, task *flamev1.TaskContext) (*flamev1.TaskOutput, error) {
	log.L().Info("task invoke",
		zap.String("session", task.SessionID),
		zap.Int64("task", task.TaskID),
		zap.Int("input-bytes", len(task.Input)))
	return &flamev1.TaskOutput{Data: task.Input, HasData: task.HasInput}, nil
}

func (s *logShim) OnSessionLeave(_ context.Context) error {
	log.L().Info("session leave",
		zap.String("application", s.application),
		zap.String("session", s.session))
	return nil
}

func (s *logShim) Close() {}
