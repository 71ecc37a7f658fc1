package errors

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGRPCRoundTrip(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{ErrNotFound.GenWithStackByArgs("ssn-1"), codes.NotFound},
		{ErrInvalidArgument.GenWithStackByArgs("bad slots"), codes.InvalidArgument},
		{ErrInvalidState.GenWithStackByArgs("closed"), codes.FailedPrecondition},
		{ErrUnavailable.GenWithStackByArgs("no session"), codes.Unavailable},
		{ErrStorage.GenWithStackByArgs("disk gone"), codes.Internal},
	}

	for _, tc := range cases {
		st, ok := status.FromError(ToGRPCError(tc.err))
		require.True(t, ok)
		require.Equal(t, tc.code, st.Code())
	}
}

func TestFromGRPCError(t *testing.T) {
	require.NoError(t, FromGRPCError(nil))

	err := FromGRPCError(status.Error(codes.NotFound, "'ssn-1' not found"))
	require.True(t, Is(err, ErrNotFound))

	err = FromGRPCError(status.Error(codes.Unavailable, "no session"))
	require.True(t, Is(err, ErrUnavailable))

	// Validation messages survive the edge verbatim.
	wire := ToGRPCError(ErrInvalidArgument.GenWithStackByArgs(
		"session <s> spec mismatch on slots: <1> vs <2>"))
	back := FromGRPCError(wire)
	require.True(t, Is(back, ErrInvalidArgument))
	require.Contains(t, back.Error(), "slots")
}

func TestIsMatchesWrapped(t *testing.T) {
	err := Trace(ErrNotFound.GenWithStackByArgs("x"))
	require.True(t, Is(err, ErrNotFound))
	require.False(t, Is(err, ErrInvalidArgument))
}
