package shim

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// stdioShim speaks newline-delimited JSON over the service's stdin/stdout.
// One request is in flight at a time, which the state machine guarantees.
type stdioShim struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
}

type stdioRequest struct {
	Method  string                  `json:"method"`
	Session *flamev1.SessionContext `json:"session,omitempty"`
	Task    *flamev1.TaskContext    `json:"task,omitempty"`
}

type stdioResponse struct {
	OK      bool   `json:"ok"`
	Data    []byte `json:"data,omitempty"`
	HasData bool   `json:"has_data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newStdioShim(app *flamev1.Application) (*stdioShim, error) {
	if app.Spec.Command == "" {
		return nil, errors.ErrShimRefused.GenWithStackByArgs("stdio shim needs a command")
	}
	return startStdio(app.Spec.Command, app.Spec.Arguments, app.Spec.Environments, app.Spec.WorkingDirectory)
}

func startStdio(command string, args []string, env map[string]string, dir string) (*stdioShim, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Dir = dir
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs("stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs("stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs("start " + command)
	}
	log.L().Info("stdio service started",
		zap.String("command", command), zap.Int("pid", cmd.Process.Pid))

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return &stdioShim{cmd: cmd, stdin: stdin, scanner: scanner}, nil
}

func (s *stdioShim) roundTrip(req *stdioRequest) (*stdioResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs("encode request")
	}
	raw = append(raw, '\n')
	if _, err := s.stdin.Write(raw); err != nil {
		return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs("write request")
	}

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs("read response")
		}
		return nil, errors.ErrShimTransport.GenWithStackByArgs("service closed stdout")
	}

	resp := &stdioResponse{}
	if err := json.Unmarshal(s.scanner.Bytes(), resp); err != nil {
		return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs("decode response")
	}
	return resp, nil
}

func (s *stdioShim) OnSessionEnter(_ context.Context, ssn *flamev1.SessionContext) error {
	resp, err := s.roundTrip(&stdioRequest{Method: "on_session_enter", Session: ssn})
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.ErrShimRefused.GenWithStackByArgs(resp.Error)
	}
	return nil
}

func (s *stdioShim) OnTaskInvoke(_ context.Context, task *flamev1.TaskContext) (*flamev1.TaskOutput, error) {
	resp, err := s.roundTrip(&stdioRequest{Method: "on_task_invoke", Task: task})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, errors.ErrUserError.GenWithStackByArgs()
	}
	return &flamev1.TaskOutput{Data: resp.Data, HasData: resp.HasData || resp.Data != nil}, nil
}

func (s *stdioShim) OnSessionLeave(_ context.Context) error {
	resp, err := s.roundTrip(&stdioRequest{Method: "on_session_leave"})
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.ErrShimRefused.GenWithStackByArgs(resp.Error)
	}
	return nil
}

func (s *stdioShim) Close() {
	_ = s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		log.L().Warn("stdio service exit", zap.Error(err))
	}
}
