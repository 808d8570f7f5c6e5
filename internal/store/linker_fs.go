package store

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// linkFilesystem exposes the VFS to the guest as a small host module,
// following the host-function pattern in
// _examples/tetratelabs-wazero/examples/allocation/rust/greet.go: the
// guest passes a pointer+length into its own linear memory, the host reads
// or writes through api.Module.Memory(), and each function returns an i32:
// a byte count (read, write) or 0 (the others) on success, and -1 on error.
//
// This stands in for spec.md §4.4's "filesystem routed to the VFS; a
// single preopened root directory" — wazero's stable public API does not
// expose a writable custom-FS hook, so the guest's filesystem surface is
// these explicit host functions rather than a WASI preopen.
func (s *Store) linkFilesystem(ctx context.Context) error {
	_, err := s.Runtime.NewHostModuleBuilder("datafusion_vfs").
		NewFunctionBuilder().WithFunc(s.hostVFSRead).Export("read").
		NewFunctionBuilder().WithFunc(s.hostVFSWrite).Export("write").
		NewFunctionBuilder().WithFunc(s.hostVFSCreate).Export("create").
		NewFunctionBuilder().WithFunc(s.hostVFSMkdir).Export("mkdir").
		NewFunctionBuilder().WithFunc(s.hostVFSUnlink).Export("unlink").
		NewFunctionBuilder().WithFunc(s.hostVFSRmdir).Export("rmdir").
		NewFunctionBuilder().WithFunc(s.hostVFSRename).Export("rename").
		NewFunctionBuilder().WithFunc(s.hostVFSTruncate).Export("truncate").
		Instantiate(ctx)
	return err
}

func readGuestString(m api.Module, ptr, size uint32) string {
	buf, ok := m.Memory().Read(ptr, size)
	if !ok {
		return ""
	}
	return string(buf)
}

// hostVFSRead reads the whole file at the guest-supplied path and writes it
// into the guest's scratch buffer at dstPtr, up to dstCap bytes; it returns
// the actual length, or -1 on error, including when the file is larger than
// dstCap (a VFS-surface simplification, since the canonical ABI's own error
// encoding (§4.6) is handled one layer up by the facade, not by this raw
// host function).
func (s *Store) hostVFSRead(ctx context.Context, m api.Module, pathPtr, pathLen, dstPtr, dstCap uint32) int32 {
	p := readGuestString(m, pathPtr, pathLen)
	data, err := s.VFS.Read(p)
	if err != nil {
		return -1
	}
	if uint32(len(data)) > dstCap {
		return -1
	}
	if !m.Memory().Write(dstPtr, data) {
		return -1
	}
	return int32(len(data))
}

func (s *Store) hostVFSWrite(ctx context.Context, m api.Module, pathPtr, pathLen, srcPtr, srcLen uint32) int32 {
	p := readGuestString(m, pathPtr, pathLen)
	data, ok := m.Memory().Read(srcPtr, srcLen)
	if !ok {
		return -1
	}
	if err := s.VFS.Write(p, data); err != nil {
		return -1
	}
	return int32(len(data))
}

func (s *Store) hostVFSCreate(ctx context.Context, m api.Module, pathPtr, pathLen uint32) int32 {
	p := readGuestString(m, pathPtr, pathLen)
	if err := s.VFS.Create(p); err != nil {
		return -1
	}
	return 0
}

func (s *Store) hostVFSMkdir(ctx context.Context, m api.Module, pathPtr, pathLen uint32) int32 {
	p := readGuestString(m, pathPtr, pathLen)
	if err := s.VFS.Mkdir(p); err != nil {
		return -1
	}
	return 0
}

func (s *Store) hostVFSUnlink(ctx context.Context, m api.Module, pathPtr, pathLen uint32) int32 {
	p := readGuestString(m, pathPtr, pathLen)
	if err := s.VFS.Unlink(p); err != nil {
		return -1
	}
	return 0
}

func (s *Store) hostVFSRmdir(ctx context.Context, m api.Module, pathPtr, pathLen uint32) int32 {
	p := readGuestString(m, pathPtr, pathLen)
	if err := s.VFS.Rmdir(p); err != nil {
		return -1
	}
	return 0
}

func (s *Store) hostVFSRename(ctx context.Context, m api.Module, oldPtr, oldLen, newPtr, newLen uint32) int32 {
	oldPath := readGuestString(m, oldPtr, oldLen)
	newPath := readGuestString(m, newPtr, newLen)
	if err := s.VFS.Rename(oldPath, newPath); err != nil {
		return -1
	}
	return 0
}

func (s *Store) hostVFSTruncate(ctx context.Context, m api.Module, pathPtr, pathLen uint32, size uint64) int32 {
	p := readGuestString(m, pathPtr, pathLen)
	if err := s.VFS.Truncate(p, int64(size)); err != nil {
		return -1
	}
	return 0
}
