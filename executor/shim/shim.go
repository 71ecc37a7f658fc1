// Package shim drives the user application hosted by an executor. Every
// variant exposes the same three operations with the same failure surface;
// retries are the state machine's call, never the shim's.
package shim

import (
	"context"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// Shim is the uniform contract presented to the executor state machine.
// Close releases the hosted service; it is separate from OnSessionLeave so a
// warm service can be kept across sessions under delay_release.
type Shim interface {
	OnSessionEnter(ctx context.Context, ssn *flamev1.SessionContext) error
	OnTaskInvoke(ctx context.Context, task *flamev1.TaskContext) (*flamev1.TaskOutput, error)
	OnSessionLeave(ctx context.Context) error
	Close()
}

// Config carries the executor-local settings a shim may need.
type Config struct {
	// WorkDir hosts per-executor sockets and scratch files.
	WorkDir string
	// WasmRuntime is the command used to host wasm images.
	WasmRuntime string
}

// New builds the shim variant for the bound application.
func New(app *flamev1.Application, cfg Config) (Shim, error) {
	if app == nil || app.Spec == nil {
		return nil, errors.ErrShimRefused.GenWithStackByArgs("application context is empty")
	}

	switch model.ParseShim(app.Spec.Shim) {
	case model.ShimLog:
		return newLogShim(app), nil
	case model.ShimGrpc:
		return newGrpcShim(app)
	case model.ShimStdio:
		return newStdioShim(app)
	case model.ShimShell:
		return newShellShim(app)
	case model.ShimWasm:
		return newWasmShim(app, cfg)
	case model.ShimHost:
		return newHostShim(app, cfg)
	default:
		return nil, errors.ErrShimRefused.GenWithStackByArgs(
			"unsupported shim kind " + app.Spec.Shim)
	}
}
