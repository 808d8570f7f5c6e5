// Package trustdata implements spec.md §4.3: a single bounded recursive
// walker for every structured value a guest returns to the host — errors,
// signatures, data types, field metadata, arrays — so that no well-formed
// or malicious guest can exhaust host memory or stack before the value
// reaches typed host code.
//
// Grounded on original_source's host/src/lib.rs, which calls one shared
// decode routine on every guest-returned value before it touches a
// DataFusion type; this package is the direct Go analog.
package trustdata

import (
	"fmt"

	"github.com/influxdata/datafusion-udf-wasm/internal/metrics"
)

// Limits bounds the decoder (spec.md §4.3, config.TrustedDataLimits).
type Limits struct {
	MaxDepth            int
	MaxIdentifierLength int
	MaxAuxStringLength  int
	MaxComplexity       int
}

// LimitExceeded is returned the instant any bound is broken; the walker
// never returns a partial value past that point.
type LimitExceeded struct {
	Name      string
	Limit     int
	Current   int
	Requested int
}

func (e *LimitExceeded) Error() string {
	return fmt.Sprintf("Resources exhausted: %s: got=%d, limit=%d", e.Name, e.Current+e.Requested, e.Limit)
}

func limitExceeded(name string, limit, current, requested int) error {
	metrics.TrustedDataRejections.WithLabelValues(name).Inc()
	return &LimitExceeded{Name: name, Limit: limit, Current: current, Requested: requested}
}

// Decoder walks guest-returned structures with the bounds in Limits.
type Decoder struct {
	limits Limits
}

// New returns a Decoder enforcing limits.
func New(limits Limits) *Decoder {
	return &Decoder{limits: limits}
}

// CheckIdentifier validates a name-like field (UDF name, field name,
// metadata key); length is measured in bytes (spec.md §4.3).
func (d *Decoder) CheckIdentifier(name string) error {
	if len(name) > d.limits.MaxIdentifierLength {
		return limitExceeded("identifier length", d.limits.MaxIdentifierLength, 0, len(name))
	}
	return nil
}

// CheckAuxString validates a human-readable auxiliary string (error
// message, context, metadata value).
func (d *Decoder) CheckAuxString(s string) error {
	if len(s) > d.limits.MaxAuxStringLength {
		return limitExceeded("auxiliary string length", d.limits.MaxAuxStringLength, 0, len(s))
	}
	return nil
}

// CheckComplexity validates the cardinality of a mapping (e.g. field
// metadata).
func (d *Decoder) CheckComplexity(n int) error {
	if n > d.limits.MaxComplexity {
		return limitExceeded("complexity", d.limits.MaxComplexity, 0, n)
	}
	return nil
}

// checkDepth validates depth against max_depth, shared by every recursive
// walk below.
func (d *Decoder) checkDepth(depth int) error {
	if depth > d.limits.MaxDepth {
		return limitExceeded("depth", d.limits.MaxDepth, 0, depth)
	}
	return nil
}

// DataType mirrors the boundary data types in spec.md §6. List and Struct
// recurse; every other kind is a leaf.
type DataType struct {
	Kind   string // "Null","Bool","Int8",...,"Utf8","Binary","Date32","Time64us","Timestampus","Durationus","List","Struct"
	Elem   *DataType // List only
	Fields []Field   // Struct only
}

// Field is a named, typed column descriptor carrying metadata (spec.md §3).
type Field struct {
	Name     string
	Type     DataType
	Nullable bool
	Metadata map[string]string
}

// Signature is the UDF's accepted argument shape (spec.md §3, §4.5).
type Signature struct {
	Params     []Field
	Volatility string
}

// WalkDataType validates a DataType tree, enforcing max_depth on List/Struct
// nesting and max_identifier_length on any Struct field name.
func (d *Decoder) WalkDataType(t DataType, depth int) error {
	if err := d.checkDepth(depth); err != nil {
		return err
	}
	switch t.Kind {
	case "List":
		if t.Elem == nil {
			return fmt.Errorf("List data type missing element type")
		}
		return d.WalkDataType(*t.Elem, depth+1)
	case "Struct":
		for _, f := range t.Fields {
			if err := d.WalkField(f, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// WalkField validates one Field, including its metadata cardinality.
func (d *Decoder) WalkField(f Field, depth int) error {
	if err := d.CheckIdentifier(f.Name); err != nil {
		return err
	}
	if err := d.CheckComplexity(len(f.Metadata)); err != nil {
		return err
	}
	for k, v := range f.Metadata {
		if err := d.CheckIdentifier(k); err != nil {
			return err
		}
		if err := d.CheckAuxString(v); err != nil {
			return err
		}
	}
	return d.WalkDataType(f.Type, depth)
}

// WalkSignature validates a UDF's declared parameter list.
func (d *Decoder) WalkSignature(s Signature) error {
	for _, p := range s.Params {
		if err := d.WalkField(p, 0); err != nil {
			return err
		}
	}
	return nil
}

// ErrorChain is a guest-side cause chain (context links), each link
// validated per spec.md §4.6 ("flattened into a cause chain ... each link
// validated against max_aux_string_length and total depth <= max_depth").
type ErrorChain struct {
	Message string
	Cause   *ErrorChain
}

// WalkErrorChain validates every link's message length and the chain's
// total depth. Boundary behavior S-11 (spec.md §8): depth exactly max_depth
// succeeds, max_depth+1 fails.
func (d *Decoder) WalkErrorChain(e *ErrorChain) error {
	depth := 0
	for cur := e; cur != nil; cur = cur.Cause {
		if err := d.checkDepth(depth); err != nil {
			return err
		}
		if err := d.CheckAuxString(cur.Message); err != nil {
			return err
		}
		depth++
	}
	return nil
}
