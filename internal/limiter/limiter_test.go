package limiter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryGrowingGrantsWithinPool(t *testing.T) {
	pool := NewPool(1024)
	l := New(pool, Caps{Instances: 1, Tables: 1, ElementsPerTable: 10, Memories: 1})
	require.True(t, l.MemoryGrowing(0, 512))
	require.Equal(t, int64(512), pool.Reserved())
}

func TestMemoryGrowingRejectsPastPool(t *testing.T) {
	pool := NewPool(100)
	l := New(pool, Caps{Instances: 1, Tables: 1, ElementsPerTable: 10, Memories: 1})
	require.False(t, l.MemoryGrowing(0, 200))
	require.Zero(t, pool.Reserved())
}

func TestTableGrowingRejectsPastElementsPerTable(t *testing.T) {
	pool := NewPool(1 << 20)
	l := New(pool, Caps{Instances: 1, Tables: 1, ElementsPerTable: 5, Memories: 1})
	require.False(t, l.TableGrowing(0, 6))
	require.True(t, l.TableGrowing(0, 5))
}

func TestCloseReleasesInFull(t *testing.T) {
	pool := NewPool(1 << 20)
	l := New(pool, Caps{Instances: 1, Tables: 1, ElementsPerTable: 10, Memories: 1})
	require.True(t, l.MemoryGrowing(0, 1000))
	require.True(t, l.TableGrowing(0, 4))
	require.NotZero(t, pool.Reserved())
	l.Close()
	require.Zero(t, pool.Reserved())
}

func TestGrowFailedDoesNotPanic(t *testing.T) {
	pool := NewPool(1024)
	l := New(pool, Caps{Instances: 1, Tables: 1, ElementsPerTable: 10, Memories: 1})
	l.MemoryGrowFailed(nil)
	l.TableGrowFailed(nil)
}

func TestStaticCapsReturnedVerbatim(t *testing.T) {
	l := New(NewPool(1), Caps{Instances: 3, Tables: 4, ElementsPerTable: 5, Memories: 6})
	require.Equal(t, 3, l.Instances())
	require.Equal(t, 4, l.Tables())
	require.Equal(t, 6, l.Memories())
}
