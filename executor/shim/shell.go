package shim

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// shellShim spawns the command once per task: input on stdin, output from
// stdout, non-zero exit is the user's error. Stderr is logged; the returned
// error does not carry it.
// Session enter/leave carry no process.
type shellShim struct {
	command string
	args    []string
	env     map[string]string
	dir     string

	commonData []byte
}

func newShellShim(app *flamev1.Application) (*shellShim, error) {
	if app.Spec.Command == "" {
		return nil, errors.ErrShimRefused.GenWithStackByArgs("shell shim needs a command")
	}
	return &shellShim{
		command: app.Spec.Command,
		args:    app.Spec.Arguments,
		env:     app.Spec.Environments,
		dir:     app.Spec.WorkingDirectory,
	}, nil
}

func (s *shellShim) OnSessionEnter(_ context.Context, ssn *flamev1.SessionContext) error {
	s.commonData = ssn.CommonData
	return nil
}

func (s *shellShim) OnTaskInvoke(ctx context.Context, task *flamev1.TaskContext) (*flamev1.TaskOutput, error) {
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Env = os.Environ()
	for k, v := range s.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Dir = s.dir

	if task.HasInput {
		cmd.Stdin = bytes.NewReader(task.Input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			log.L().Info("task command failed",
				zap.String("command", s.command),
				zap.Int64("task", task.TaskID),
				zap.String("stderr", stderr.String()))
			return nil, errors.ErrUserError.GenWithStackByArgs()
		}
		return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs("run " + s.command)
	}

	return &flamev1.TaskOutput{Data: stdout.Bytes(), HasData: true}, nil
}

func (s *shellShim) OnSessionLeave(_ context.Context) error {
	s.commonData = nil
	return nil
}

func (s *shellShim) Close() {}
