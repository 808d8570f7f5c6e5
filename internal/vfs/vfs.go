// Package vfs implements spec.md §4.2: an inode-indexed in-memory
// filesystem exposed to the guest as a single preopened POSIX-like root
// directory, with per-operation, per-file, aggregate-byte, path-length,
// segment-length, inode-count, and write-rate limits.
//
// Every mutating operation follows the all-or-nothing rule from spec.md §9
// Open Question 1: it checks every limit and charges every quota first; if
// any check fails, zero bytes of state change.
package vfs

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/influxdata/datafusion-udf-wasm/internal/limiter"
	"github.com/influxdata/datafusion-udf-wasm/internal/metrics"
)

// Limits bounds one FS instance (spec.md §3).
type Limits struct {
	Inodes             int
	MaxStorageBytes    int64
	MaxFileSize        int64
	MaxPathLength      int
	MaxPathSegmentSize int
	MaxWriteOpsPerSec  float64
}

type inodeKind int

const (
	kindDir inodeKind = iota
	kindFile
)

type inode struct {
	kind     inodeKind
	children map[string]*inode // dir only
	data     []byte            // file only
}

// FS is one guest's virtual filesystem. It is not safe for concurrent use by
// more than one goroutine; callers are expected to hold the owning store's
// mutex (spec.md §5).
type FS struct {
	limits  Limits
	limiter *limiter.Limiter
	bucket  *rate.Limiter

	mu        sync.Mutex // guards the tree; the store mutex already serializes guest calls, this additionally protects host-side readers (e.g. metrics scrapers)
	root      *inode
	inodes    int
	totalSize int64
}

// New returns an empty FS charging memory growth against lim.
func New(limits Limits, lim *limiter.Limiter) *FS {
	var bucket *rate.Limiter
	if limits.MaxWriteOpsPerSec > 0 {
		bucket = rate.NewLimiter(rate.Limit(limits.MaxWriteOpsPerSec), int(limits.MaxWriteOpsPerSec)+1)
	}
	return &FS{
		limits:  limits,
		limiter: lim,
		bucket:  bucket,
		root:    &inode{kind: kindDir, children: map[string]*inode{}},
		inodes:  1,
	}
}

func quotaErr(name string, limit, current, requested int) error {
	return fmt.Errorf("%s limit reached: limit<=%d current==%d requested+=%d", name, limit, current, requested)
}

func (f *FS) checkPath(p string) ([]string, error) {
	if len(p) > f.limits.MaxPathLength {
		metrics.VFSQuotaRejections.WithLabelValues("path_length").Inc()
		return nil, quotaErr("path length", f.limits.MaxPathLength, 0, len(p))
	}
	clean := strings.Trim(path.Clean("/"+p), "/")
	if clean == "" || clean == "." {
		return nil, nil
	}
	segments := strings.Split(clean, "/")
	for _, seg := range segments {
		if seg == ".." {
			return nil, fmt.Errorf("path escapes root: %q", p)
		}
		if len(seg) > f.limits.MaxPathSegmentSize {
			metrics.VFSQuotaRejections.WithLabelValues("path_segment").Inc()
			return nil, quotaErr("path segment", f.limits.MaxPathSegmentSize, 0, len(seg))
		}
	}
	return segments, nil
}

// allowWrite consumes one token from the write-rate bucket, used by every
// mutating operation per spec.md §4.2 ("Token bucket for write rate
// (write, truncate, mkdir, unlink, rename)").
func (f *FS) allowWrite() error {
	if f.bucket == nil {
		return nil
	}
	if !f.bucket.Allow() {
		metrics.VFSQuotaRejections.WithLabelValues("write_rate").Inc()
		return fmt.Errorf("write rate limit exceeded: max %v ops/sec", f.limits.MaxWriteOpsPerSec)
	}
	return nil
}

func (f *FS) walk(segments []string, create bool) (*inode, *inode, string, error) {
	cur := f.root
	var parent *inode
	var name string
	for i, seg := range segments {
		if cur.kind != kindDir {
			return nil, nil, "", fmt.Errorf("not a directory: %q", seg)
		}
		child, ok := cur.children[seg]
		if !ok {
			if i == len(segments)-1 && create {
				return nil, cur, seg, nil
			}
			return nil, nil, "", fmt.Errorf("no such file or directory: %q", seg)
		}
		parent, name = cur, seg
		cur = child
	}
	return cur, parent, name, nil
}

// Mkdir creates a directory at p, charging one inode.
func (f *FS) Mkdir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.allowWrite(); err != nil {
		return err
	}
	segs, err := f.checkPath(p)
	if err != nil {
		return err
	}
	if f.inodes+1 > f.limits.Inodes {
		metrics.VFSQuotaRejections.WithLabelValues("inodes").Inc()
		return quotaErr("inode count", f.limits.Inodes, f.inodes, 1)
	}
	node, parent, name, err := f.walk(segs, true)
	if err != nil {
		return err
	}
	if node != nil {
		return fmt.Errorf("already exists: %q", p)
	}
	parent.children[name] = &inode{kind: kindDir, children: map[string]*inode{}}
	f.inodes++
	return nil
}

// Create makes an empty regular file at p, charging one inode.
func (f *FS) Create(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.allowWrite(); err != nil {
		return err
	}
	segs, err := f.checkPath(p)
	if err != nil {
		return err
	}
	if f.inodes+1 > f.limits.Inodes {
		metrics.VFSQuotaRejections.WithLabelValues("inodes").Inc()
		return quotaErr("inode count", f.limits.Inodes, f.inodes, 1)
	}
	node, parent, name, err := f.walk(segs, true)
	if err != nil {
		return err
	}
	if node != nil {
		return nil // already exists: POSIX create is idempotent for O_CREAT
	}
	parent.children[name] = &inode{kind: kindFile}
	f.inodes++
	return nil
}

// Read returns the full contents of the file at p.
func (f *FS) Read(p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	segs, err := f.checkPath(p)
	if err != nil {
		return nil, err
	}
	node, _, _, err := f.walk(segs, false)
	if err != nil {
		return nil, err
	}
	if node.kind != kindFile {
		return nil, fmt.Errorf("is a directory: %q", p)
	}
	out := make([]byte, len(node.data))
	copy(out, node.data)
	return out, nil
}

// Write replaces the contents of the file at p with data (no partial
// append semantics — guests use Write for whole-buffer flush, matching the
// simplified POSIX surface of spec.md §4.2; Truncate covers grow-in-place).
func (f *FS) Write(p string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.allowWrite(); err != nil {
		return err
	}
	segs, err := f.checkPath(p)
	if err != nil {
		return err
	}
	node, _, _, err := f.walk(segs, false)
	if err != nil {
		return err
	}
	if node.kind != kindFile {
		return fmt.Errorf("is a directory: %q", p)
	}
	return f.growFile(node, data)
}

// growFile enforces per-file size, aggregate bytes, and memory-pool
// accounting before committing new contents. Per spec.md §9 Open Question
// 1, a breach anywhere bills zero bytes: all checks run before any mutation.
func (f *FS) growFile(node *inode, data []byte) error {
	newSize := int64(len(data))
	oldSize := int64(len(node.data))
	delta := newSize - oldSize

	if newSize > f.limits.MaxFileSize {
		metrics.VFSQuotaRejections.WithLabelValues("file_size").Inc()
		return quotaErr("file size", int(f.limits.MaxFileSize), int(oldSize), int(newSize-oldSize))
	}
	if delta > 0 {
		if f.totalSize+delta > f.limits.MaxStorageBytes {
			metrics.VFSQuotaRejections.WithLabelValues("storage_bytes").Inc()
			return quotaErr("aggregate storage", int(f.limits.MaxStorageBytes), int(f.totalSize), int(delta))
		}
		if f.limiter != nil && !f.limiter.MemoryGrowing(uint64(f.totalSize), uint64(f.totalSize+delta)) {
			return fmt.Errorf("memory pool rejected VFS growth of %d bytes", delta)
		}
	}
	node.data = append([]byte(nil), data...)
	f.totalSize += delta
	if f.limiter != nil && delta < 0 {
		f.limiter.Shrink(-delta)
	}
	return nil
}

// Truncate resizes the file at p to size bytes, zero-filling on grow.
func (f *FS) Truncate(p string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.allowWrite(); err != nil {
		return err
	}
	segs, err := f.checkPath(p)
	if err != nil {
		return err
	}
	node, _, _, err := f.walk(segs, false)
	if err != nil {
		return err
	}
	if node.kind != kindFile {
		return fmt.Errorf("is a directory: %q", p)
	}
	next := make([]byte, size)
	copy(next, node.data)
	return f.growFile(node, next)
}

// Unlink removes the regular file at p.
func (f *FS) Unlink(p string) error {
	return f.removeNode(p, kindFile)
}

// Rmdir removes the empty directory at p.
func (f *FS) Rmdir(p string) error {
	return f.removeNode(p, kindDir)
}

func (f *FS) removeNode(p string, want inodeKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.allowWrite(); err != nil {
		return err
	}
	segs, err := f.checkPath(p)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return fmt.Errorf("cannot remove root")
	}
	node, parent, name, err := f.walk(segs, false)
	if err != nil {
		return err
	}
	if node.kind != want {
		return fmt.Errorf("wrong type for %q", p)
	}
	if node.kind == kindDir && len(node.children) > 0 {
		return fmt.Errorf("directory not empty: %q", p)
	}
	size := int64(len(node.data))
	delete(parent.children, name)
	f.inodes--
	f.totalSize -= size
	if f.limiter != nil && size > 0 {
		f.limiter.Shrink(size)
	}
	return nil
}

// Rename moves the inode at oldPath to newPath.
func (f *FS) Rename(oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.allowWrite(); err != nil {
		return err
	}
	oldSegs, err := f.checkPath(oldPath)
	if err != nil {
		return err
	}
	newSegs, err := f.checkPath(newPath)
	if err != nil {
		return err
	}
	node, oldParent, oldName, err := f.walk(oldSegs, false)
	if err != nil {
		return err
	}
	_, newParent, newName, err := f.walk(newSegs, true)
	if err != nil {
		return err
	}
	delete(oldParent.children, oldName)
	newParent.children[newName] = node
	return nil
}

// Stat reports whether p exists, its kind, and its size.
type Stat struct {
	IsDir bool
	Size  int64
}

// Stat returns file metadata for p.
func (f *FS) Stat(p string) (Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	segs, err := f.checkPath(p)
	if err != nil {
		return Stat{}, err
	}
	node, _, _, err := f.walk(segs, false)
	if err != nil {
		return Stat{}, err
	}
	return Stat{IsDir: node.kind == kindDir, Size: int64(len(node.data))}, nil
}

// Readdir lists the names of entries directly under p.
func (f *FS) Readdir(p string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	segs, err := f.checkPath(p)
	if err != nil {
		return nil, err
	}
	node, _, _, err := f.walk(segs, false)
	if err != nil {
		return nil, err
	}
	if node.kind != kindDir {
		return nil, fmt.Errorf("not a directory: %q", p)
	}
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	return names, nil
}

// TotalBytes and InodeCount back invariant 5 in spec.md §8.
func (f *FS) TotalBytes() int64 { return f.totalSize }
func (f *FS) InodeCount() int   { return f.inodes }

// Close releases every byte this FS holds in the memory pool, run on store
// drop (spec.md §8 invariant 5: "both drop to zero on store drop").
func (f *FS) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limiter != nil && f.totalSize > 0 {
		f.limiter.Shrink(f.totalSize)
	}
	f.root = &inode{kind: kindDir, children: map[string]*inode{}}
	f.inodes = 1
	f.totalSize = 0
}
