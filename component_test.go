package udfwasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
)

func TestDigestOfIsStableAndContentAddressed(t *testing.T) {
	a := digestOf([]byte("component bytes"))
	b := digestOf([]byte("component bytes"))
	c := digestOf([]byte("different bytes"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestCompileRejectsInvalidWasm(t *testing.T) {
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)
	cache := NewCompilationCache()

	_, err := Compile(ctx, runtime, cache, []byte("not a wasm module"), CompileFlags{})
	require.Error(t, err)
	require.Equal(t, 0, cache.Len())
}

func TestCacheLookupMissesUnseenDigest(t *testing.T) {
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)
	cache := NewCompilationCache()

	raw := []byte("not a wasm module") // compile fails, but digest lookup path still exercised below
	digest := digestOf(raw)
	_, ok := cache.lookup(digest)
	require.False(t, ok)
}
