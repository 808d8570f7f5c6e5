package vfs

import (
	"archive/tar"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/influxdata/datafusion-udf-wasm/internal/limiter"
)

func newTestFS(t *testing.T, limits Limits) *FS {
	t.Helper()
	pool := limiter.NewPool(1 << 20)
	lim := limiter.New(pool, limiter.Caps{Instances: 1, Tables: 1, ElementsPerTable: 10, Memories: 1})
	return New(limits, lim)
}

func smallLimits() Limits {
	return Limits{
		Inodes:             8,
		MaxStorageBytes:    1024,
		MaxFileSize:        256,
		MaxPathLength:      64,
		MaxPathSegmentSize: 16,
		MaxWriteOpsPerSec:  0, // unlimited for most tests
	}
}

func TestCreateWriteRead(t *testing.T) {
	f := newTestFS(t, smallLimits())
	require.NoError(t, f.Create("/a.txt"))
	require.NoError(t, f.Write("/a.txt", []byte("hello")))
	got, err := f.Read("/a.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	require.Equal(t, int64(5), f.TotalBytes())
}

func TestPathSegmentBreachS5(t *testing.T) {
	f := newTestFS(t, smallLimits())
	ok := strings.Repeat("x", 16)
	require.NoError(t, f.Create("/"+ok))

	tooLong := strings.Repeat("x", 17)
	err := f.Create("/" + tooLong)
	require.Error(t, err)
	require.Contains(t, err.Error(), "path segment limit reached: limit<=16 current==0 requested+=17")
}

func TestInodeLimit(t *testing.T) {
	limits := smallLimits()
	limits.Inodes = 2 // root + 1
	f := newTestFS(t, limits)
	require.NoError(t, f.Create("/one"))
	err := f.Create("/two")
	require.Error(t, err)
}

func TestFileSizeLimitAllOrNothing(t *testing.T) {
	f := newTestFS(t, smallLimits())
	require.NoError(t, f.Create("/big"))
	before := f.TotalBytes()
	err := f.Write("/big", bytes.Repeat([]byte{1}, 257))
	require.Error(t, err)
	// Open Question 1: a breach bills zero bytes, not a partial write.
	require.Equal(t, before, f.TotalBytes())
	data, err := f.Read("/big")
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestUnlinkReleasesBytesAndInode(t *testing.T) {
	f := newTestFS(t, smallLimits())
	require.NoError(t, f.Create("/x"))
	require.NoError(t, f.Write("/x", []byte("1234")))
	before := f.InodeCount()
	require.NoError(t, f.Unlink("/x"))
	require.Equal(t, before-1, f.InodeCount())
	require.Zero(t, f.TotalBytes())
}

func TestRenameMkdirRmdirReaddir(t *testing.T) {
	f := newTestFS(t, smallLimits())
	require.NoError(t, f.Mkdir("/dir"))
	require.NoError(t, f.Create("/dir/file"))
	entries, err := f.Readdir("/dir")
	require.NoError(t, err)
	require.Equal(t, []string{"file"}, entries)

	require.NoError(t, f.Rename("/dir/file", "/dir/renamed"))
	entries, err = f.Readdir("/dir")
	require.NoError(t, err)
	require.Equal(t, []string{"renamed"}, entries)

	require.NoError(t, f.Unlink("/dir/renamed"))
	require.NoError(t, f.Rmdir("/dir"))
}

func TestCloseZeroesPoolAndSize(t *testing.T) {
	pool := limiter.NewPool(1 << 20)
	lim := limiter.New(pool, limiter.Caps{Instances: 1, Tables: 1, ElementsPerTable: 10, Memories: 1})
	f := New(smallLimits(), lim)
	require.NoError(t, f.Create("/a"))
	require.NoError(t, f.Write("/a", []byte("payload")))
	require.NotZero(t, pool.Reserved())
	f.Close()
	require.Zero(t, f.TotalBytes())
	lim.Close()
	require.Zero(t, pool.Reserved())
}

func TestLoadTarRejectsSymlink(t *testing.T) {
	f := newTestFS(t, smallLimits())
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "evil",
		Typeflag: tar.TypeSymlink,
		Linkname: "/etc/passwd",
	}))
	require.NoError(t, tw.Close())

	err := f.LoadTar(&buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported entry type")
}

func TestLoadTarRegularFilesAndDirs(t *testing.T) {
	f := newTestFS(t, Limits{Inodes: 32, MaxStorageBytes: 1 << 20, MaxFileSize: 1 << 20, MaxPathLength: 256, MaxPathSegmentSize: 64})
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "dir/", Typeflag: tar.TypeDir}))
	body := []byte("fn add_one")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "dir/lib.rs", Typeflag: tar.TypeReg, Size: int64(len(body))}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	require.NoError(t, f.LoadTar(&buf))
	got, err := f.Read("/dir/lib.rs")
	require.NoError(t, err)
	require.Equal(t, body, got)
}
