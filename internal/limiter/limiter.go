// Package limiter implements spec.md §4.1: a resource limiter bound to one
// wazero store that authorizes and accounts every memory/table growth of
// the guest against an external memory pool.
//
// It is grounded on wazero's own experimental.MemoryAllocator hook
// (_examples/tetratelabs-wazero/experimental/memory.go), generalized from a
// single Make/Grow/Free allocator into a grant/reject accounting layer that
// can be shared by many stores drawing from one pool.
package limiter

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/influxdata/datafusion-udf-wasm/internal/metrics"
)

// Pool is the external memory pool the Limiter reserves bytes from. One Pool
// is typically shared by every UDF in a process (spec.md §5 "Shared
// resources").
type Pool struct {
	max       int64
	reserved  int64
}

// NewPool returns a Pool capped at maxBytes total across all consumers.
func NewPool(maxBytes int64) *Pool {
	return &Pool{max: maxBytes}
}

// reserve attempts to add n bytes to the pool's outstanding reservation. It
// never blocks (spec.md §5 "Backpressure: the Limiter rejects growth
// instead of blocking").
func (p *Pool) reserve(n int64) bool {
	for {
		cur := atomic.LoadInt64(&p.reserved)
		next := cur + n
		if next > p.max || next < 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&p.reserved, cur, next) {
			return true
		}
	}
}

func (p *Pool) release(n int64) {
	atomic.AddInt64(&p.reserved, -n)
}

// Reserved reports bytes currently charged against the pool. Used by
// property tests asserting invariant 1 in spec.md §8.
func (p *Pool) Reserved() int64 {
	return atomic.LoadInt64(&p.reserved)
}

// Limiter is a per-store resource limiter. It implements the same grant/
// reject/shrink contract wazero's experimental.MemoryAllocator exposes via
// Make/Grow/Free, but expressed against spec.md's grow/shrink vocabulary so
// it can also gate table growth, which MemoryAllocator does not cover.
type Limiter struct {
	pool *Pool

	instances, tables, elementsPerTable, memories int

	mu               sync.Mutex
	memoryBytes      int64
	tableBytes       int64
}

// Caps mirrors config.ResourceLimits without importing the root package
// (avoiding an import cycle); the facade constructs this from Permissions.
type Caps struct {
	Instances, Tables, ElementsPerTable, Memories int
}

// New returns a Limiter drawing from pool, with the given static caps.
func New(pool *Pool, caps Caps) *Limiter {
	return &Limiter{
		pool:             pool,
		instances:        caps.Instances,
		tables:           caps.Tables,
		elementsPerTable: caps.ElementsPerTable,
		memories:         caps.Memories,
	}
}

// MemoryGrowing implements the engine's per-instance memory growth hook
// (spec.md §4.1). currentBytes and desiredBytes are byte counts; callers
// that track wasm pages multiply by the page size before calling.
//
// It never traps: a rejection here surfaces to the guest as an allocation
// failure inside its own allocator, exactly like wazero's real
// experimental.MemoryAllocator.Grow returning a same-size slice on failure.
func (l *Limiter) MemoryGrowing(currentBytes, desiredBytes uint64) (grant bool) {
	grow := int64(desiredBytes) - int64(currentBytes)
	if grow <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pool.reserve(grow) {
		metrics.LimiterRejections.Inc()
		slog.Warn("limiter.memory.rejected", "grow_bytes", grow, "pool_reserved", l.pool.Reserved())
		return false
	}
	l.memoryBytes += grow
	return true
}

// MemoryGrowFailed is called by the engine when a grant could not actually
// be satisfied (e.g. address space exhaustion). We accept the call and do
// not trap (spec.md §4.1).
func (l *Limiter) MemoryGrowFailed(err error) {
	slog.Warn("limiter.memory.grow_failed", "error", err)
}

// TableGrowing implements the table growth hook. desired is an element
// count, not bytes.
func (l *Limiter) TableGrowing(current, desired uint32) (grant bool) {
	if int(desired) > l.elementsPerTable {
		metrics.LimiterRejections.Inc()
		return false
	}
	grow := int64(desired) - int64(current)
	if grow <= 0 {
		return true
	}
	const ptrSize = 8
	bytes, overflow := mulOverflows(grow, ptrSize)
	if overflow {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pool.reserve(bytes) {
		metrics.LimiterRejections.Inc()
		return false
	}
	l.tableBytes += bytes
	return true
}

// TableGrowFailed mirrors MemoryGrowFailed for tables.
func (l *Limiter) TableGrowFailed(err error) {
	slog.Warn("limiter.table.grow_failed", "error", err)
}

func mulOverflows(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	result := a * b
	if result/b != a || result > math.MaxInt64/2 {
		return 0, true
	}
	return result, false
}

// Instances, Tables, Memories return the static caps verbatim, as the
// engine requires (spec.md §4.1).
func (l *Limiter) Instances() int { return l.instances }
func (l *Limiter) Tables() int    { return l.tables }
func (l *Limiter) Memories() int  { return l.memories }

// Shrink releases bytes previously reserved via MemoryGrowing/TableGrowing.
func (l *Limiter) Shrink(bytes int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pool.release(bytes)
	l.memoryBytes -= bytes
}

// Close releases every byte this Limiter still holds, as happens on store
// drop (spec.md §4.1, invariant 1 in §8: "on facade drop, the pool sees
// zero outstanding bytes").
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pool.release(l.memoryBytes + l.tableBytes)
	l.memoryBytes, l.tableBytes = 0, 0
}
