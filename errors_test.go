package udfwasm

import (
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/require"
)

func TestLimitExceededMessageFormatS4(t *testing.T) {
	err := &LimitExceeded{Name: "identifier length", Limit: 50, Current: 0, Requested: 51}
	require.Equal(t, "Resources exhausted: identifier length: got=51, limit=50", err.Error())
}

func TestRowCountMismatchMessageFormatS2(t *testing.T) {
	err := RowCountMismatch(43, 42)
	require.Contains(t, err.Error(), "UDF returned array of length 43 but should produce 42 rows")
	require.True(t, errdefs.IsDataLoss(err))
}

func TestAsResourceExhaustedNilIsNil(t *testing.T) {
	require.NoError(t, AsResourceExhausted(nil))
}

func TestAsGuestTrapAppendsStderr(t *testing.T) {
	err := AsGuestTrap(&LimitExceeded{Name: "depth", Limit: 10, Requested: 11}, "panic: out of bounds")
	require.True(t, errdefs.IsUnknown(err))
	require.Contains(t, err.Error(), "panic: out of bounds")
}

func TestWithContextPrefixesAndUnwraps(t *testing.T) {
	base := errdefs.ErrInvalidArgument
	wrapped := WithContext("call ScalarUdf::return_type", base)
	require.Contains(t, wrapped.Error(), "call ScalarUdf::return_type")
	require.ErrorIs(t, wrapped, base)
}
