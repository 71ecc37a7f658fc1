package shim

import (
	"context"

	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

const defaultWasmRuntime = "wasmtime"

// wasmShim hosts the application's wasm image in an external runtime and
// speaks the stdio protocol to it, so a guest only needs stdin/stdout.
type wasmShim struct {
	inner *stdioShim
}

func newWasmShim(app *flamev1.Application, cfg Config) (*wasmShim, error) {
	if app.Spec.Image == "" {
		return nil, errors.ErrShimRefused.GenWithStackByArgs("wasm shim needs an image")
	}
	runtime := cfg.WasmRuntime
	if runtime == "" {
		runtime = defaultWasmRuntime
	}

	args := append([]string{"run", "--", app.Spec.Image}, app.Spec.Arguments...)
	inner, err := startStdio(runtime, args, app.Spec.Environments, app.Spec.WorkingDirectory)
	if err != nil {
		return nil, err
	}
	return &wasmShim{inner: inner}, nil
}

func (s *wasmShim) OnSessionEnter(ctx context.Context, ssn *flamev1.SessionContext) error {
	return s.inner.OnSessionEnter(ctx, ssn)
}

func (s *wasmShim) OnTaskInvoke(ctx context.Context, task *flamev1.TaskContext) (*flamev1.TaskOutput, error) {
	return s.inner.OnTaskInvoke(ctx, task)
}

func (s *wasmShim) OnSessionLeave(ctx context.Context) error {
	return s.inner.OnSessionLeave(ctx)
}

func (s *wasmShim) Close() {
	s.inner.Close()
}
