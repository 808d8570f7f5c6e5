// Package udfwasm implements spec.md: a sandboxed WebAssembly host that
// executes untrusted user-defined scalar functions (UDFs) on behalf of a
// columnar query engine. WasmScalarUdf is the facade implementing the
// engine's scalar-UDF interface around one guest-exported function; Load
// constructs every facade a guest component publishes, sharing one Store.
package udfwasm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/influxdata/datafusion-udf-wasm/internal/bridge"
	"github.com/influxdata/datafusion-udf-wasm/internal/limiter"
	"github.com/influxdata/datafusion-udf-wasm/internal/shim"
	"github.com/influxdata/datafusion-udf-wasm/internal/store"
	"github.com/influxdata/datafusion-udf-wasm/internal/trustdata"
	"github.com/influxdata/datafusion-udf-wasm/internal/vfs"
)

// vfsLimitsFromPermissions converts the public VFSLimits into the
// internal/vfs package's Limits, defined separately to avoid vfs importing
// the root package (which would create an import cycle, since the root
// package imports internal/vfs transitively via internal/store).
func vfsLimitsFromPermissions(l VFSLimits) vfs.Limits {
	return vfs.Limits{
		Inodes:             l.Inodes,
		MaxStorageBytes:    l.MaxStorageBytes,
		MaxFileSize:        l.MaxFileSize,
		MaxPathLength:      l.MaxPathLength,
		MaxPathSegmentSize: l.MaxPathSegmentSize,
		MaxWriteOpsPerSec:  l.MaxWriteOpsPerSec,
	}
}

// udfLoad is the shared state of one Load call: one Store, one instantiated
// guest module, one Bridge and Decoder. Every WasmScalarUdf returned by Load
// holds a reference to the same udfLoad (spec.md §4.5: "construct N facades
// sharing the store").
type udfLoad struct {
	store     *store.Store
	abi       *guestABI
	bridge    *bridge.Bridge
	decoder   *trustdata.Decoder
	perm      *Permissions
	closeOnce sync.Once
	closeErr  error
}

// WasmScalarUdf is the host-side object the engine calls per guest UDF
// (spec.md §4.5, glossary "Facade").
type WasmScalarUdf struct {
	load      *udfLoad
	index     int
	udfName   string
	signature trustdata.Signature
}

// Name returns the UDF's name, cached at construction (spec.md §4.5).
func (u *WasmScalarUdf) Name() string { return u.udfName }

// Signature returns the UDF's declared parameter shape, cached at
// construction (spec.md §4.5).
func (u *WasmScalarUdf) Signature() trustdata.Signature { return u.signature }

// Close releases the store shared by every facade from the same Load. Safe
// to call from more than one of those facades: the first call closes the
// store, after which none of them can be invoked, and every later call
// returns the first call's result. Close does not count references; it
// does not wait for the other facades to be closed.
func (u *WasmScalarUdf) Close(ctx context.Context) error {
	u.load.closeOnce.Do(func() {
		u.load.closeErr = u.load.store.Close(ctx)
	})
	return u.load.closeErr
}

// Load implements spec.md §4.5's construction protocol: acquire/build a
// precompiled component, create a store and link WASI, seed the VFS from
// root_fs_tar(), call scalar_udfs(source) under deadline, enforce max_udfs,
// reject duplicate names, and construct one facade per published UDF.
//
// Grounded on _examples/tetratelabs-wazero's own runtime.InstantiateModule
// call sites (e.g. imports/wasi_snapshot_preview1/wasi_test.go) for wiring a
// compiled module, module config, and host-linked imports together into one
// running instance.
func Load(ctx context.Context, runtime wazero.Runtime, cache *CompilationCache, pool *limiter.Pool, perm *Permissions, raw []byte, flags CompileFlags, source string) ([]*WasmScalarUdf, error) {
	if perm == nil {
		perm = NewPermissions()
	}

	component, err := Compile(ctx, runtime, cache, raw, flags)
	if err != nil {
		return nil, WithContext("compile component", err)
	}

	lim := limiter.New(pool, limiter.Caps{
		Instances:        perm.resourceLimits.NInstances,
		Tables:           perm.resourceLimits.NTables,
		ElementsPerTable: perm.resourceLimits.NElementsPerTable,
		Memories:         perm.resourceLimits.NMemories,
	})

	st, err := store.New(ctx, store.Config{
		VFSLimits:   vfsLimitsFromPermissions(perm.vfsLimits),
		Limiter:     lim,
		StderrBytes: perm.stderrBytes,
		Validator:   perm.httpValidator,
		Envs:        perm.Envs(),
	})
	if err != nil {
		return nil, AsEngineError(WithContext("create store", err))
	}

	instCtx := st.WithMemoryAllocator(ctx)
	mod, err := runtime.InstantiateModule(instCtx, component.compiled, st.ModuleConfig())
	if err != nil {
		st.Close(ctx)
		return nil, AsEngineError(WithContext("instantiate guest component", err))
	}
	st.Module = mod
	abi := newGuestABI(mod)

	load := &udfLoad{
		store:   st,
		abi:     abi,
		bridge:  bridge.New(perm.maxCachedFields, perm.maxCachedConfigOptions),
		decoder: trustdata.New(trustdata.Limits(perm.trustedDataLimits)),
		perm:    perm,
	}

	st.Mutex.Lock()
	seedErr := load.seedRootFS(ctx)
	st.Mutex.Unlock()
	if seedErr != nil {
		st.Close(ctx)
		return nil, WithContext("populate root FS from TAR", seedErr)
	}

	st.Mutex.Lock()
	descriptors, err := load.callScalarUDFs(ctx, source)
	st.Mutex.Unlock()
	if err != nil {
		st.Close(ctx)
		return nil, WithContext("call scalar_udfs", err)
	}

	if len(descriptors) > perm.maxUDFs {
		st.Close(ctx)
		return nil, AsResourceExhausted(ErrTooManyUDFs)
	}

	seen := make(map[string]bool, len(descriptors))
	udfs := make([]*WasmScalarUdf, 0, len(descriptors))
	for i, d := range descriptors {
		if err := load.decoder.CheckIdentifier(d.Name); err != nil {
			st.Close(ctx)
			return nil, WithContext("validate UDF name", err)
		}
		if seen[d.Name] {
			st.Close(ctx)
			return nil, AsInvalidArgument(fmt.Errorf("%w: '%s'", ErrNonUniqueUDFName, d.Name))
		}
		seen[d.Name] = true

		sig := trustdata.Signature{Volatility: d.Signature.Volatility}
		for _, p := range d.Signature.Params {
			sig.Params = append(sig.Params, fieldFromWire(p))
		}
		if err := load.decoder.WalkSignature(sig); err != nil {
			st.Close(ctx)
			return nil, WithContext("validate UDF signature", err)
		}

		udfs = append(udfs, &WasmScalarUdf{load: load, index: i, udfName: d.Name, signature: sig})
	}

	return udfs, nil
}

// seedRootFS calls the guest's root_fs_tar export and, if it returns a
// non-empty archive, loads it into the store's VFS before any other export
// runs (spec.md §4.5 step 2).
func (l *udfLoad) seedRootFS(ctx context.Context) error {
	deadline := shim.Deadline(l.perm.epochTickTime, l.perm.inplaceBlockingMaxTicks)
	raw, err := shim.InPlaceBlocking(ctx, deadline, func(ctx context.Context) ([]byte, error) {
		return l.abi.call0(ctx, "root_fs_tar")
	})
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	payload, err := unwrapTagged(raw, l.decoder)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return l.store.VFS.LoadTar(bytes.NewReader(payload))
}

// callScalarUDFs calls the guest's scalar_udfs(source) export under the
// epoch deadline and decodes the resulting descriptor list (spec.md §4.5
// step 3).
func (l *udfLoad) callScalarUDFs(ctx context.Context, source string) ([]wireUDFDescriptor, error) {
	deadline := shim.Deadline(l.perm.epochTickTime, l.perm.inplaceBlockingMaxTicks)
	raw, err := shim.InPlaceBlocking(ctx, deadline, func(ctx context.Context) ([]byte, error) {
		return l.abi.callBytes(ctx, "scalar_udfs", []byte(source))
	})
	if err != nil {
		return nil, err
	}
	payload, err := unwrapTagged(raw, l.decoder)
	if err != nil {
		return nil, err
	}
	var descriptors []wireUDFDescriptor
	if err := json.Unmarshal(payload, &descriptors); err != nil {
		return nil, fmt.Errorf("decode scalar_udfs response: %w", err)
	}
	return descriptors, nil
}
