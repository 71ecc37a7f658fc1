package errors

import (
	"context"

	perrors "github.com/pingcap/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Normalized error classes of the core. Construct instances with
// GenWithStackByArgs/Wrap and classify with Is.
var (
	ErrNotFound = perrors.Normalize("'%s' not found",
		perrors.RFCCodeText("FLAME:ErrNotFound"))
	ErrInvalidArgument = perrors.Normalize("invalid argument: %s",
		perrors.RFCCodeText("FLAME:ErrInvalidArgument"))
	ErrInvalidState = perrors.Normalize("invalid state: %s",
		perrors.RFCCodeText("FLAME:ErrInvalidState"))
	ErrConflict = perrors.Normalize("conflict: %s",
		perrors.RFCCodeText("FLAME:ErrConflict"))
	ErrStorage = perrors.Normalize("storage: %s",
		perrors.RFCCodeText("FLAME:ErrStorage"))
	ErrTransport = perrors.Normalize("transport: %s",
		perrors.RFCCodeText("FLAME:ErrTransport"))
	ErrShimRefused = perrors.Normalize("shim refused: %s",
		perrors.RFCCodeText("FLAME:ErrShimRefused"))
	ErrShimTransport = perrors.Normalize("shim transport: %s",
		perrors.RFCCodeText("FLAME:ErrShimTransport"))
	ErrUserError = perrors.Normalize("user error",
		perrors.RFCCodeText("FLAME:ErrUserError"))
	ErrUnavailable = perrors.Normalize("unavailable: %s",
		perrors.RFCCodeText("FLAME:ErrUnavailable"))
	ErrCancelled = perrors.Normalize("cancelled: %s",
		perrors.RFCCodeText("FLAME:ErrCancelled"))
	ErrInternal = perrors.Normalize("internal: %s",
		perrors.RFCCodeText("FLAME:ErrInternal"))
	ErrVersionMismatch = perrors.Normalize("version mismatch: %s",
		perrors.RFCCodeText("FLAME:ErrVersionMismatch"))
)

// Is reports whether err belongs to the normalized class.
func Is(err error, class *perrors.Error) bool {
	return class.Equal(perrors.Cause(err))
}

// Trace re-exports errors.Trace so callers need a single import.
func Trace(err error) error {
	return perrors.Trace(err)
}

// Cause re-exports errors.Cause.
func Cause(err error) error {
	return perrors.Cause(err)
}

// ToGRPCError maps a core error to a grpc status error at the RPC edge.
// Validation failures keep their message verbatim.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && perrors.Cause(err) == err {
		return err
	}

	code := codes.Unknown
	switch {
	case Is(err, ErrNotFound):
		code = codes.NotFound
	case Is(err, ErrInvalidArgument):
		code = codes.InvalidArgument
	case Is(err, ErrInvalidState), Is(err, ErrConflict):
		code = codes.FailedPrecondition
	case Is(err, ErrUnavailable):
		code = codes.Unavailable
	case Is(err, ErrCancelled), perrors.Cause(err) == context.Canceled:
		code = codes.Canceled
	case Is(err, ErrStorage), Is(err, ErrInternal), Is(err, ErrVersionMismatch):
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// FromGRPCError maps a grpc status error back to a normalized class on the
// client side.
func FromGRPCError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return ErrTransport.Wrap(err).GenWithStackByArgs(err.Error())
	}
	switch st.Code() {
	case codes.OK:
		return nil
	case codes.NotFound:
		return ErrNotFound.GenWithStackByArgs(st.Message())
	case codes.InvalidArgument:
		return ErrInvalidArgument.GenWithStackByArgs(st.Message())
	case codes.FailedPrecondition:
		return ErrInvalidState.GenWithStackByArgs(st.Message())
	case codes.Unavailable:
		return ErrUnavailable.GenWithStackByArgs(st.Message())
	case codes.Canceled:
		return ErrCancelled.GenWithStackByArgs(st.Message())
	default:
		return ErrTransport.GenWithStackByArgs(st.Message())
	}
}
