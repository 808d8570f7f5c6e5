package udfwasm

import (
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/require"

	"github.com/influxdata/datafusion-udf-wasm/internal/trustdata"
)

func TestDataTypeWireRoundTrip(t *testing.T) {
	dt := trustdata.DataType{
		Kind: "List",
		Elem: &trustdata.DataType{
			Kind: "Struct",
			Fields: []trustdata.Field{
				{Name: "a", Type: trustdata.DataType{Kind: "Int64"}, Nullable: true},
				{Name: "b", Type: trustdata.DataType{Kind: "Utf8"}, Metadata: map[string]string{"k": "v"}},
			},
		},
	}
	wire := dataTypeToWire(dt)
	back := dataTypeFromWire(wire)
	require.Equal(t, dt, back)
}

func TestUnwrapTaggedOK(t *testing.T) {
	d := trustdata.New(trustdata.Limits{MaxDepth: 10, MaxAuxStringLength: 100})
	raw := append([]byte{tagOK}, []byte("payload")...)
	payload, err := unwrapTagged(raw, d)
	require.NoError(t, err)
	require.Equal(t, "payload", string(payload))
}

func TestUnwrapTaggedErr(t *testing.T) {
	d := trustdata.New(trustdata.Limits{MaxDepth: 10, MaxAuxStringLength: 100})
	errJSON := []byte(`{"message":"boom","cause":{"message":"root cause"}}`)
	raw := append([]byte{tagErr}, errJSON...)
	_, err := unwrapTagged(raw, d)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Contains(t, err.Error(), "root cause")
}

func TestUnwrapTaggedErrBreachesAuxStringLimit(t *testing.T) {
	d := trustdata.New(trustdata.Limits{MaxDepth: 10, MaxAuxStringLength: 4})
	errJSON := []byte(`{"message":"this message is far too long"}`)
	raw := append([]byte{tagErr}, errJSON...)
	_, err := unwrapTagged(raw, d)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Resources exhausted")
}

func TestUnwrapTaggedEmptyResponse(t *testing.T) {
	d := trustdata.New(trustdata.Limits{})
	_, err := unwrapTagged(nil, d)
	require.Error(t, err)
}

func TestVFSLimitsFromPermissionsMapsAllFields(t *testing.T) {
	l := VFSLimits{
		Inodes:             7,
		MaxStorageBytes:    8,
		MaxFileSize:        9,
		MaxPathLength:      10,
		MaxPathSegmentSize: 11,
		MaxWriteOpsPerSec:  12.5,
	}
	got := vfsLimitsFromPermissions(l)
	require.Equal(t, 7, got.Inodes)
	require.Equal(t, int64(8), got.MaxStorageBytes)
	require.Equal(t, int64(9), got.MaxFileSize)
	require.Equal(t, 10, got.MaxPathLength)
	require.Equal(t, 11, got.MaxPathSegmentSize)
	require.Equal(t, 12.5, got.MaxWriteOpsPerSec)
}

func TestClassifyShimErrorIsResourceExhausted(t *testing.T) {
	err := classifyShimError(errors.New("deadline has elapsed"))
	require.True(t, errdefs.IsResourceExhausted(err))
}
