package udfwasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// guestABI wraps one instantiated guest module, calling its exports with the
// same ptr+length linear-memory convention used by the host functions in
// internal/store/linker_fs.go, which is itself grounded on
// _examples/tetratelabs-wazero/examples/allocation/rust/greet.go: a result is
// a packed i64 (ptr<<32 | len) into memory the guest itself allocated via its
// own exported `allocate`/`deallocate` functions.
//
// wazero's public API carries no component-model (WIT/canonical ABI)
// support, and no canonical-ABI binding generator appears anywhere in the
// retrieval pack; this is the documented simplification standing in for
// spec.md §4.4's "component world" (see also linker_fs.go's doc comment).
type guestABI struct {
	mod api.Module
}

func newGuestABI(mod api.Module) *guestABI {
	return &guestABI{mod: mod}
}

func splitPacked(v uint64) (ptr, size uint32) {
	return uint32(v >> 32), uint32(v)
}

func packPtrLen(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

// allocate asks the guest to reserve size bytes of its own linear memory and
// returns the pointer, mirroring greet.go's "allocate"/"deallocate" exports.
func (g *guestABI) allocate(ctx context.Context, size uint32) (uint32, error) {
	fn := g.mod.ExportedFunction("allocate")
	if fn == nil {
		return 0, fmt.Errorf("guest module does not export allocate")
	}
	res, err := fn.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("call guest allocate(%d): %w", size, err)
	}
	return uint32(res[0]), nil
}

func (g *guestABI) deallocate(ctx context.Context, ptr, size uint32) error {
	fn := g.mod.ExportedFunction("deallocate")
	if fn == nil {
		return nil // guests that never allocate need not export it
	}
	_, err := fn.Call(ctx, uint64(ptr), uint64(size))
	return err
}

// writeBytes allocates guest memory for data and writes it, returning the
// pointer and length to pass as call arguments.
func (g *guestABI) writeBytes(ctx context.Context, data []byte) (ptr, size uint32, err error) {
	size = uint32(len(data))
	if size == 0 {
		return 0, 0, nil
	}
	ptr, err = g.allocate(ctx, size)
	if err != nil {
		return 0, 0, err
	}
	if !g.mod.Memory().Write(ptr, data) {
		return 0, 0, fmt.Errorf("write %d bytes into guest memory at %d", size, ptr)
	}
	return ptr, size, nil
}

// readPacked reads a packed ptr<<32|len i64 return value's bytes out of
// guest memory, then frees the guest's buffer via deallocate.
func (g *guestABI) readPacked(ctx context.Context, packed uint64) ([]byte, error) {
	ptr, size := splitPacked(packed)
	if size == 0 {
		return nil, nil
	}
	buf, ok := g.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("read %d bytes from guest memory at %d", size, ptr)
	}
	out := append([]byte(nil), buf...) // copy before the guest frees/reuses the page
	if err := g.deallocate(ctx, ptr, size); err != nil {
		return nil, fmt.Errorf("deallocate guest result buffer: %w", err)
	}
	return out, nil
}

// call0 invokes a zero-argument export returning a packed ptr+len.
func (g *guestABI) call0(ctx context.Context, name string) ([]byte, error) {
	fn := g.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("guest module does not export %s", name)
	}
	res, err := fn.Call(ctx)
	if err != nil {
		return nil, fmt.Errorf("call guest %s: %w", name, err)
	}
	return g.readPacked(ctx, res[0])
}

// callBytes invokes export(name) with a byte-string argument (ptr, len) and
// any trailing scalar args, returning the packed ptr+len result's bytes.
func (g *guestABI) callBytes(ctx context.Context, name string, arg []byte, trailing ...uint64) ([]byte, error) {
	fn := g.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("guest module does not export %s", name)
	}
	ptr, size, err := g.writeBytes(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("marshal argument for %s: %w", name, err)
	}
	params := append([]uint64{uint64(ptr), uint64(size)}, trailing...)
	res, err := fn.Call(ctx, params...)
	if derr := g.deallocate(ctx, ptr, size); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return nil, fmt.Errorf("call guest %s: %w", name, err)
	}
	return g.readPacked(ctx, res[0])
}
