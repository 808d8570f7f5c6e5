// Package bridge implements spec.md §4.6 step 3 and §2 component 7: it
// converts a host ColumnarValue (an array plus its schema) to the guest-ABI
// wire format and back, via the columnar library's streaming IPC format,
// caching Field and ConfigOptions descriptors by content hash in a bounded
// LRU (spec.md §3 "Decoded type-ish structures").
package bridge

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	iipc "github.com/influxdata/datafusion-udf-wasm/internal/ipc"
)

// ColumnarValue is the host-side value crossing the ABI: an array together
// with its field. It has no separate scalar form; a scalar travels as an
// array like any other value.
type ColumnarValue struct {
	Array arrow.Array
	Field arrow.Field
}

// Bridge holds the content-hash LRU caches for Field and ConfigOptions
// descriptors, sized per Permissions (spec.md §3, §4.6).
type Bridge struct {
	alloc        memory.Allocator
	fields       *lru
	configOpts   *lru
}

// New returns a Bridge with the given cache capacities (non-zero per
// spec.md §3's "max_cached_fields, max_cached_config_options (non-zero)").
func New(maxCachedFields, maxCachedConfigOptions int) *Bridge {
	return &Bridge{
		alloc:      memory.NewGoAllocator(),
		fields:     newLRU(maxCachedFields),
		configOpts: newLRU(maxCachedConfigOptions),
	}
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EncodedField is a schema-transport blob for one arrow.Field plus its
// content-hash cache key.
type EncodedField struct {
	Hash  string
	Bytes []byte
}

// EncodeField serializes f via the columnar library's schema format and
// caches it by content hash, returning the cached bytes on a repeat
// encoding of an identical field (spec.md §4.6 step 3, §8 law 8:
// "re-encoding it is idempotent; the content-hash LRU key is stable").
func (b *Bridge) EncodeField(f arrow.Field) (EncodedField, error) {
	buf, err := marshalSchema(arrow.NewSchema([]arrow.Field{f}, nil))
	if err != nil {
		return EncodedField{}, fmt.Errorf("encode field schema: %w", err)
	}
	hash := contentHash(buf)
	if cached, ok := b.fields.get(hash); ok {
		return cached.(EncodedField), nil
	}
	enc := EncodedField{Hash: hash, Bytes: buf}
	b.fields.put(hash, enc)
	return enc, nil
}

// marshalSchema encodes a schema using the Arrow IPC stream writer against
// an in-memory sink and returns everything the writer produced (the schema
// message followed by the end-of-stream marker) — the canonical transport
// representation used as a cache key (spec.md §4.7
// "content hash ... used as a cache key for field/config/component
// artifacts").
func marshalSchema(schema *arrow.Schema) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(memory.NewGoAllocator()))
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodedConfigOptions is a content-hash-cached serialization of the
// DataFusion ConfigOptions descriptor accompanying a call (spec.md §4.6
// step 3: "encode the config-options descriptor similarly (LRU-cached)").
type EncodedConfigOptions struct {
	Hash  string
	Bytes []byte
}

// EncodeConfigOptions serializes an opaque key/value config map.
func (b *Bridge) EncodeConfigOptions(opts map[string]string) (EncodedConfigOptions, error) {
	buf, err := marshalConfigOptions(opts)
	if err != nil {
		return EncodedConfigOptions{}, err
	}
	hash := contentHash(buf)
	if cached, ok := b.configOpts.get(hash); ok {
		return cached.(EncodedConfigOptions), nil
	}
	enc := EncodedConfigOptions{Hash: hash, Bytes: buf}
	b.configOpts.put(hash, enc)
	return enc, nil
}

func marshalConfigOptions(opts map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte(0)
		buf.WriteString(opts[k])
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// EncodeArray serializes arr as a single-batch Arrow IPC stream ready to
// cross the ABI into the guest.
func (b *Bridge) EncodeArray(arr arrow.Array, field arrow.Field) ([]byte, error) {
	schema := arrow.NewSchema([]arrow.Field{field}, nil)
	rec := array.NewRecord(schema, []arrow.Array{arr}, int64(arr.Len()))
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(b.alloc))
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("write IPC record batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close IPC writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeArray validates wire has no compressed IPC bodies (spec.md §4.10),
// then decodes it into a ColumnarValue. This is the single entry point used
// after a guest invoke_with_args call (spec.md §4.6 step 5).
func (b *Bridge) DecodeArray(wire []byte) (ColumnarValue, error) {
	if err := iipc.CheckNoCompression(bytes.NewReader(wire)); err != nil {
		return ColumnarValue{}, err
	}
	reader, err := ipc.NewReader(bytes.NewReader(wire), ipc.WithAllocator(b.alloc))
	if err != nil {
		return ColumnarValue{}, fmt.Errorf("open IPC reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		return ColumnarValue{}, fmt.Errorf("IPC stream has no record batch")
	}
	rec := reader.Record()
	if rec.NumCols() != 1 {
		return ColumnarValue{}, fmt.Errorf("expected exactly one column, got %d", rec.NumCols())
	}
	col := rec.Column(0)
	col.Retain()
	return ColumnarValue{Array: col, Field: rec.Schema().Field(0)}, nil
}
