package udfwasm

import (
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/influxdata/datafusion-udf-wasm/internal/metrics"
)

// CompilationCache is a process-wide, content-hash-keyed cache of compiled
// components (spec.md §3, §4.7): "A process-wide compilation cache maps
// content-hash -> compiled artifact bytes, serialized by a read-write lock.
// Insertion always succeeds (no eviction); this cache is intended for
// short-lived processes."
//
// Grounded on _examples/tetratelabs-wazero/cache.go's Cache type, which
// wraps wazero's engine-level compilation cache behind a small interface;
// this is that same idea generalized from one wazero.Runtime to many
// concurrent loads sharing a single process-wide map.
type CompilationCache struct {
	mu      sync.RWMutex
	byHash  map[string]wazero.CompiledModule
}

// NewCompilationCache returns an empty cache.
func NewCompilationCache() *CompilationCache {
	return &CompilationCache{byHash: make(map[string]wazero.CompiledModule)}
}

func (c *CompilationCache) lookup(digest string) (wazero.CompiledModule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byHash[digest]
	if ok {
		metrics.CompilationCache.WithLabelValues("hit").Inc()
	} else {
		metrics.CompilationCache.WithLabelValues("miss").Inc()
	}
	return m, ok
}

func (c *CompilationCache) store(digest string, m wazero.CompiledModule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Insertion always succeeds; a concurrent duplicate translation simply
	// overwrites with an equivalent compiled module rather than being
	// rejected (spec.md §4.7: "deduplicates translation across concurrent
	// loads" is a best effort, not a strict single-flight guarantee).
	c.byHash[digest] = m
}

// Len reports the number of distinct digests currently cached.
func (c *CompilationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHash)
}
