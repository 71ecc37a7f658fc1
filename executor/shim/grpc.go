package shim

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// grpcShim talks to a service the application operator already runs, at the
// URL in the application spec.
type grpcShim struct {
	conn *grpc.ClientConn
	cli  flamev1.GrpcShimClient
}

func newGrpcShim(app *flamev1.Application) (*grpcShim, error) {
	if app.Spec.URL == "" {
		return nil, errors.ErrShimRefused.GenWithStackByArgs(
			"grpc shim needs a service url")
	}
	return dialShim(app.Spec.URL)
}

func dialShim(target string) (*grpcShim, error) {
	conn, err := grpc.Dial(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(flamev1.CodecName)),
	)
	if err != nil {
		return nil, errors.ErrShimTransport.Wrap(err).GenWithStackByArgs("dial " + target)
	}
	return &grpcShim{conn: conn, cli: flamev1.NewGrpcShimClient(conn)}, nil
}

// shimError classifies a grpc failure from the service side. Anything the
// service answered deliberately is the user's error; the rest is transport.
func shimError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.ErrShimTransport.Wrap(err).GenWithStackByArgs(err.Error())
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return errors.ErrShimTransport.GenWithStackByArgs(st.Message())
	case codes.FailedPrecondition, codes.InvalidArgument, codes.Unimplemented:
		return errors.ErrShimRefused.GenWithStackByArgs(st.Message())
	default:
		return errors.ErrUserError.Wrap(err).GenWithStackByArgs()
	}
}

func (s *grpcShim) OnSessionEnter(ctx context.Context, ssn *flamev1.SessionContext) error {
	_, err := s.cli.OnSessionEnter(ctx, ssn)
	return shimError(err)
}

func (s *grpcShim) OnTaskInvoke(ctx context.Context, task *flamev1.TaskContext) (*flamev1.TaskOutput, error) {
	out, err := s.cli.OnTaskInvoke(ctx, task)
	if err != nil {
		return nil, shimError(err)
	}
	return out, nil
}

func (s *grpcShim) OnSessionLeave(ctx context.Context) error {
	_, err := s.cli.OnSessionLeave(ctx, &flamev1.Empty{})
	return shimError(err)
}

func (s *grpcShim) Close() {
	_ = s.conn.Close()
}
