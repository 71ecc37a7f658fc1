// Package client provides thin grpc client wrappers over the Flame services.
// The executor manager drives the Backend; tools and tests use the Frontend.
package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// Dial opens a connection speaking the Flame JSON codec.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(flamev1.CodecName)),
	)
	if err != nil {
		return nil, errors.ErrTransport.Wrap(err).GenWithStackByArgs("dial " + addr)
	}
	return conn, nil
}

// BackendClient is the executor manager's handle on the session manager.
type BackendClient struct {
	conn *grpc.ClientConn
	cli  flamev1.BackendClient
}

func NewBackendClient(addr string) (*BackendClient, error) {
	conn, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	return &BackendClient{conn: conn, cli: flamev1.NewBackendClient(conn)}, nil
}

// NewBackendClientWithConn wraps an existing connection; used by tests that
// serve over bufconn.
func NewBackendClientWithConn(conn *grpc.ClientConn) *BackendClient {
	return &BackendClient{conn: conn, cli: flamev1.NewBackendClient(conn)}
}

func (c *BackendClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *BackendClient) RegisterExecutor(ctx context.Context, id string, slots int) error {
	_, err := c.cli.RegisterExecutor(ctx, &flamev1.RegisterExecutorRequest{
		ExecutorID: id,
		Spec:       &flamev1.ExecutorSpec{Slots: int32(slots)},
	})
	return errors.FromGRPCError(err)
}

func (c *BackendClient) UnregisterExecutor(ctx context.Context, id string) error {
	_, err := c.cli.UnregisterExecutor(ctx, &flamev1.UnregisterExecutorRequest{ExecutorID: id})
	return errors.FromGRPCError(err)
}

// BindExecutor blocks server-side until the scheduler picks a session, or
// returns Unavailable after the configured bind wait.
func (c *BackendClient) BindExecutor(ctx context.Context, id string) (*flamev1.BindExecutorResponse, error) {
	resp, err := c.cli.BindExecutor(ctx, &flamev1.BindExecutorRequest{ExecutorID: id})
	if err != nil {
		return nil, errors.FromGRPCError(err)
	}
	return resp, nil
}

func (c *BackendClient) BindExecutorCompleted(ctx context.Context, id string) error {
	_, err := c.cli.BindExecutorCompleted(ctx, &flamev1.BindExecutorCompletedRequest{ExecutorID: id})
	return errors.FromGRPCError(err)
}

func (c *BackendClient) UnbindExecutor(ctx context.Context, id string) error {
	_, err := c.cli.UnbindExecutor(ctx, &flamev1.UnbindExecutorRequest{ExecutorID: id})
	return errors.FromGRPCError(err)
}

func (c *BackendClient) UnbindExecutorCompleted(ctx context.Context, id string) error {
	_, err := c.cli.UnbindExecutorCompleted(ctx, &flamev1.UnbindExecutorCompletedRequest{ExecutorID: id})
	return errors.FromGRPCError(err)
}

func (c *BackendClient) LaunchTask(ctx context.Context, id string) (*flamev1.Task, error) {
	resp, err := c.cli.LaunchTask(ctx, &flamev1.LaunchTaskRequest{ExecutorID: id})
	if err != nil {
		return nil, errors.FromGRPCError(err)
	}
	return resp.Task, nil
}

// CompleteTask reports the in-flight task's terminal state and may carry the
// next task back.
func (c *BackendClient) CompleteTask(
	ctx context.Context, id string, task *flamev1.Task, succeed bool, output []byte, hasOutput bool, message string,
) (*flamev1.Task, error) {
	resp, err := c.cli.CompleteTask(ctx, &flamev1.CompleteTaskRequest{
		ExecutorID: id,
		SessionID:  task.Spec.SessionID,
		TaskID:     task.TaskID,
		Succeed:    succeed,
		Output:     output,
		HasOutput:  hasOutput,
		Message:    message,
	})
	if err != nil {
		return nil, errors.FromGRPCError(err)
	}
	return resp.NextTask, nil
}

// FrontendClient wraps the client-facing service for tools and tests.
type FrontendClient struct {
	conn *grpc.ClientConn
	Cli  flamev1.FrontendClient
}

func NewFrontendClient(addr string) (*FrontendClient, error) {
	conn, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	return &FrontendClient{conn: conn, Cli: flamev1.NewFrontendClient(conn)}, nil
}

func NewFrontendClientWithConn(conn *grpc.ClientConn) *FrontendClient {
	return &FrontendClient{conn: conn, Cli: flamev1.NewFrontendClient(conn)}
}

func (c *FrontendClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
