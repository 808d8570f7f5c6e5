// Package store implements spec.md §4.4: a per-guest store binding the
// VFS, the Limiter, the HTTP validator, bounded stderr capture, an
// environment snapshot, and the curated WASI surface — clocks, random,
// stdio, CLI env/exit, filesystem routed to the VFS, sockets and HTTP
// gated by the validator.
//
// Grounded on _examples/tetratelabs-wazero/imports/wasi_snapshot_preview1
// for the unrestricted clocks/random/stdio/CLI interfaces, and on
// experimental/memory.go's MemoryAllocator hook
// (_examples/tetratelabs-wazero/experimental/memory.go) for wiring the
// Limiter into the engine's actual memory-growth path.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/influxdata/datafusion-udf-wasm/internal/limiter"
	"github.com/influxdata/datafusion-udf-wasm/internal/vfs"
)

// HTTPValidator gates outgoing sockets/HTTP (spec.md §4.4).
type HTTPValidator interface {
	Allow(method, url string) bool
}

// Store is the per-UDF-batch isolation unit (spec.md §3). It is guarded by
// Mutex so at most one guest call runs per store at a time (spec.md §5).
type Store struct {
	Mutex sync.Mutex

	Runtime   wazero.Runtime
	Module    api.Module
	VFS       *vfs.FS
	Limiter   *limiter.Limiter
	Stderr    *RingBuffer
	validator HTTPValidator
	envs      []string

	resources   map[uint64]any
	nextHandle  uint64
	resourcesMu sync.Mutex
}

// Config bundles everything needed to build one Store.
type Config struct {
	VFSLimits    vfs.Limits
	Limiter      *limiter.Limiter
	StderrBytes  int
	Validator    HTTPValidator
	Envs         []string
}

// memAllocatorAdapter satisfies wazero's experimental.MemoryAllocator by
// delegating every grow decision to a limiter.Limiter, so the resource
// limiter's grant/reject contract (spec.md §4.1) is enforced on the engine's
// actual memory-growth path rather than re-implemented.
type memAllocatorAdapter struct {
	lim  *limiter.Limiter
	buf  []byte
}

func (a *memAllocatorAdapter) Make(min, cap, max uint64) []byte {
	if !a.lim.MemoryGrowing(0, min) {
		a.lim.MemoryGrowFailed(fmt.Errorf("initial memory request of %d bytes rejected", min))
		return make([]byte, min, min) // guest still gets required min per the allocator contract; future grows are what get rejected
	}
	a.buf = make([]byte, min, cap)
	return a.buf
}

func (a *memAllocatorAdapter) Grow(size uint64) []byte {
	current := uint64(len(a.buf))
	if !a.lim.MemoryGrowing(current, size) {
		a.lim.MemoryGrowFailed(fmt.Errorf("memory grow to %d bytes rejected", size))
		return a.buf
	}
	next := make([]byte, size)
	copy(next, a.buf)
	a.buf = next
	return a.buf
}

func (a *memAllocatorAdapter) Free() {
	if a.lim != nil {
		a.lim.Close()
	}
}

// New constructs a Store: engine config with epoch-style deadline support
// (WithCloseOnContextDone so a context timeout preempts a running guest
// call, spec.md §4.8's deadline mechanism), the Limiter held for
// WithMemoryAllocator to wire in at instantiation, and the curated WASI
// p2-equivalent surface linked in.
func New(ctx context.Context, cfg Config) (*Store, error) {
	rcfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, rcfg)

	s := &Store{
		Runtime:   runtime,
		VFS:       vfs.New(cfg.VFSLimits, cfg.Limiter),
		Limiter:   cfg.Limiter,
		Stderr:    NewRingBuffer(cfg.StderrBytes),
		validator: cfg.Validator,
		envs:      cfg.Envs,
		resources: make(map[uint64]any),
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("link WASI clocks/random/stdio/CLI: %w", err)
	}
	if err := s.linkFilesystem(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("link VFS host functions: %w", err)
	}
	if err := s.linkNetwork(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("link validator-gated sockets/HTTP host functions: %w", err)
	}
	return s, nil
}

// WithMemoryAllocator returns a context that wires this store's Limiter into
// wazero's memory-growth path for the next Instantiate call.
func (s *Store) WithMemoryAllocator(ctx context.Context) context.Context {
	return experimental.WithMemoryAllocator(ctx, &memAllocatorAdapter{lim: s.Limiter})
}

// ModuleConfig returns the standard module config shared by every guest
// instantiation: stdin empty, stdout discarded, stderr into the ring
// buffer, env from the permissions snapshot (spec.md §4.4).
func (s *Store) ModuleConfig() wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithStdout(discardWriter{}).
		WithStderr(s.Stderr)
	for _, kv := range s.envs {
		k, v := splitEnv(kv)
		cfg = cfg.WithEnv(k, v)
	}
	return cfg
}

func splitEnv(kv string) (string, string) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:]
		}
	}
	return kv, ""
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// PutResource stores a guest-held resource handle (a scalar-udf capability,
// spec.md §4.4's "capability set on the scalar-udf resource"), returning an
// opaque handle ID.
func (s *Store) PutResource(v any) uint64 {
	s.resourcesMu.Lock()
	defer s.resourcesMu.Unlock()
	id := s.nextHandle
	s.nextHandle++
	s.resources[id] = v
	return id
}

// Resource retrieves a previously stored resource by handle.
func (s *Store) Resource(id uint64) (any, bool) {
	s.resourcesMu.Lock()
	defer s.resourcesMu.Unlock()
	v, ok := s.resources[id]
	return v, ok
}

// Close reclaims every guest-held resource and the underlying wazero
// runtime (spec.md §3 "UDF handle ... lifetime ends with the last facade
// dropping it; at that point the store and all guest-held resources are
// reclaimed").
func (s *Store) Close(ctx context.Context) error {
	s.VFS.Close()
	if s.Limiter != nil {
		s.Limiter.Close()
	}
	return s.Runtime.Close(ctx)
}
