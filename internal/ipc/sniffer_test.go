package ipc

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

func uncompressedStream(t *testing.T) []byte {
	t.Helper()
	mem := memory.NewGoAllocator()
	bld := array.NewInt64Builder(mem)
	defer bld.Release()
	bld.AppendValues([]int64{1, 2, 3}, nil)
	arr := bld.NewArray()
	defer arr.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{arr}, 3)
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestCheckNoCompressionPassesPlainStream(t *testing.T) {
	data := uncompressedStream(t)
	err := CheckNoCompression(bytes.NewReader(data))
	require.NoError(t, err)
}

func TestCheckNoCompressionRejectsTruncatedGarbage(t *testing.T) {
	err := CheckNoCompression(bytes.NewReader([]byte{0x01, 0x02}))
	require.Error(t, err)
}
