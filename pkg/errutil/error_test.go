package errutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errSentinel = errors.New("sentinel")

func TestHelpersKeepCause(t *testing.T) {
	err := NotFound("tenant not found", errSentinel)

	require.ErrorIs(t, err, errSentinel)

	var base BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, StatusNotFound, base.Code)
	require.Equal(t, http.StatusNotFound, base.Code.HTTPStatus())
	require.Equal(t, "[not_found] tenant not found: sentinel", err.Error())
}

func TestToGRPCError(t *testing.T) {
	st, ok := status.FromError(ToGRPCError(Forbidden("nope", nil)))
	require.True(t, ok)
	require.Equal(t, codes.PermissionDenied, st.Code())

	st, ok = status.FromError(ToGRPCError(errors.New("boom")))
	require.True(t, ok)
	require.Equal(t, codes.Internal, st.Code())

	require.NoError(t, ToGRPCError(nil))
}

func TestHTTPStatusDefaultsToInternal(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, CoreStatus("whatever").HTTPStatus())
	require.Equal(t, http.StatusUnprocessableEntity, StatusUnprocessableEntity.HTTPStatus())
}

func TestSentinelMatchesThroughWrapping(t *testing.T) {
	errGone := Sentinel(StatusNotFound, "gone")
	wrapped := fmt.Errorf("lookup: %w", errGone)

	require.ErrorIs(t, wrapped, errGone)
	require.NotErrorIs(t, wrapped, Sentinel(StatusNotFound, "gone"))

	var coder interface{ Status() CoreStatus }
	require.ErrorAs(t, wrapped, &coder)
	require.Equal(t, StatusNotFound, coder.Status())
}
