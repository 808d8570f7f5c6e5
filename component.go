package udfwasm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tetratelabs/wazero"
)

// Component is an immutable, content-addressed compiled WASM artifact
// (spec.md §3). It is constructed once and shared by reference across many
// UDFs; compiling it only translates the bytes once regardless of how many
// stores later instantiate it.
type Component struct {
	raw     []byte
	digest  string
	compiled wazero.CompiledModule
}

// Digest returns the content hash used as the compilation-cache key
// (spec.md §3, §4.7).
func (c *Component) Digest() string { return c.digest }

// Raw returns the original component bytes.
func (c *Component) Raw() []byte { return c.raw }

func digestOf(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// CompileFlags parameterizes compilation. Target names a target triple; it
// appears only in compile error messages, compilation always targets the
// host, and the cache key does not include it.
type CompileFlags struct {
	Target string
}

// Compile produces a Component from raw WASM component bytes, reusing an
// already-compiled artifact for the same digest from cache if present
// (spec.md §4.7).
func Compile(ctx context.Context, runtime wazero.Runtime, cache *CompilationCache, raw []byte, flags CompileFlags) (*Component, error) {
	digest := digestOf(raw)
	if cached, ok := cache.lookup(digest); ok {
		return &Component{raw: raw, digest: digest, compiled: cached}, nil
	}
	compiled, err := runtime.CompileModule(ctx, raw)
	if err != nil {
		return nil, AsEngineError(fmt.Errorf("compile component (target=%q): %w", flags.Target, err))
	}
	cache.store(digest, compiled)
	return &Component{raw: raw, digest: digest, compiled: compiled}, nil
}

// LoadPrecompiled builds a Component from raw component bytes (such as the
// bytes cmd/compile writes) by passing them to Compile.
//
// wazero does not expose direct (de)serialization of a CompiledModule on
// its public API surface, and LoadPrecompiled does no deserialization: it
// skips translation only when cache already holds the bytes' digest, or
// when runtime itself was built with a compilation cache that already holds
// them (for example wazero.NewCompilationCacheWithDir). Otherwise the bytes
// are translated again.
func LoadPrecompiled(ctx context.Context, runtime wazero.Runtime, cache *CompilationCache, raw []byte) (*Component, error) {
	return Compile(ctx, runtime, cache, raw, CompileFlags{})
}
