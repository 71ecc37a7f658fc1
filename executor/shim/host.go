package shim

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// FlameInstanceEndpoint is exported to the hosted service so it knows where
// to serve its shim endpoint.
const FlameInstanceEndpoint = "FLAME_INSTANCE_ENDPOINT"

const (
	hostStartupTimeout = 30 * time.Second
	hostStopGrace      = 3 * time.Second
)

// hostShim spawns the application's service as a local subprocess and drives
// it over the shim grpc service on a unix socket.
type hostShim struct {
	cmd    *exec.Cmd
	socket string
	inner  *grpcShim
}

func newHostShim(app *flamev1.Application, cfg Config) (*hostShim, error) {
	if app.Spec.Command == "" {
		return nil, errors.ErrShimRefused.GenWithStackByArgs("host shim needs a command")
	}

	dir := filepath.Join(cfg.WorkDir, "shim")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs("create shim dir")
	}
	socket := filepath.Join(dir, uuid.NewString()+".sock")

	cmd := exec.Command(app.Spec.Command, app.Spec.Arguments...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=unix://%s", FlameInstanceEndpoint, socket))
	for k, v := range app.Spec.Environments {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if app.Spec.WorkingDirectory != "" {
		cmd.Dir = app.Spec.WorkingDirectory
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs(
			"start service " + app.Spec.Command)
	}
	log.L().Info("service started",
		zap.String("command", app.Spec.Command),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("socket", socket))

	if err := waitForSocket(socket, hostStartupTimeout); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	inner, err := dialShim("unix://" + socket)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	return &hostShim{cmd: cmd, socket: socket, inner: inner}, nil
}

func waitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.ErrShimTransport.GenWithStackByArgs(
		"service did not open " + path)
}

func (s *hostShim) OnSessionEnter(ctx context.Context, ssn *flamev1.SessionContext) error {
	return s.inner.OnSessionEnter(ctx, ssn)
}

func (s *hostShim) OnTaskInvoke(ctx context.Context, task *flamev1.TaskContext) (*flamev1.TaskOutput, error) {
	return s.inner.OnTaskInvoke(ctx, task)
}

func (s *hostShim) OnSessionLeave(ctx context.Context) error {
	return s.inner.OnSessionLeave(ctx)
}

func (s *hostShim) Close() {
	s.inner.Close()
	s.stop()
	_ = os.Remove(s.socket)
}

// stop gives the service a grace period before killing it.
func (s *hostShim) stop() {
	if s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Signal(os.Interrupt)

	done := make(chan struct{})
	go func() {
		_ = s.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(hostStopGrace):
		log.L().Warn("service did not exit, killing",
			zap.Int("pid", s.cmd.Process.Pid))
		_ = s.cmd.Process.Kill()
		<-done
	}
}
