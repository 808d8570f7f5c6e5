package udfwasm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/influxdata/datafusion-udf-wasm/internal/trustdata"
)

// The guest ABI's metadata surface (names, signatures, return types, error
// chains) travels as small JSON envelopes rather than the columnar IPC
// format reserved for array payloads (internal/bridge), since these values
// are control-plane descriptors, not row data. Every value crossing this
// boundary is still walked by internal/trustdata before host code touches
// it (spec.md §4.3).
type wireDataType struct {
	Kind   string         `json:"kind"`
	Elem   *wireDataType  `json:"elem,omitempty"`
	Fields []wireField    `json:"fields,omitempty"`
}

type wireField struct {
	Name     string            `json:"name"`
	Type     wireDataType      `json:"type"`
	Nullable bool              `json:"nullable"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type wireSignature struct {
	Params     []wireField `json:"params"`
	Volatility string      `json:"volatility"`
}

type wireUDFDescriptor struct {
	Name      string        `json:"name"`
	Signature wireSignature `json:"signature"`
}

type wireErrorChain struct {
	Message string          `json:"message"`
	Cause   *wireErrorChain `json:"cause,omitempty"`
}

func dataTypeFromWire(w wireDataType) trustdata.DataType {
	dt := trustdata.DataType{Kind: w.Kind}
	if w.Elem != nil {
		e := dataTypeFromWire(*w.Elem)
		dt.Elem = &e
	}
	for _, f := range w.Fields {
		dt.Fields = append(dt.Fields, fieldFromWire(f))
	}
	return dt
}

func fieldFromWire(w wireField) trustdata.Field {
	return trustdata.Field{
		Name:     w.Name,
		Type:     dataTypeFromWire(w.Type),
		Nullable: w.Nullable,
		Metadata: w.Metadata,
	}
}

func dataTypeToWire(dt trustdata.DataType) wireDataType {
	w := wireDataType{Kind: dt.Kind}
	if dt.Elem != nil {
		e := dataTypeToWire(*dt.Elem)
		w.Elem = &e
	}
	for _, f := range dt.Fields {
		w.Fields = append(w.Fields, fieldToWire(f))
	}
	return w
}

func fieldToWire(f trustdata.Field) wireField {
	return wireField{Name: f.Name, Type: dataTypeToWire(f.Type), Nullable: f.Nullable, Metadata: f.Metadata}
}

func errorChainFromWire(w *wireErrorChain) *trustdata.ErrorChain {
	if w == nil {
		return nil
	}
	return &trustdata.ErrorChain{Message: w.Message, Cause: errorChainFromWire(w.Cause)}
}

// flattenErrorChain renders a cause chain the way spec.md §7 describes propagation:
// the top-level message first, each cause appended after "caused by:".
func flattenErrorChain(e *trustdata.ErrorChain) string {
	var parts []string
	for cur := e; cur != nil; cur = cur.Cause {
		parts = append(parts, cur.Message)
	}
	return strings.Join(parts, "; caused by: ")
}

// taggedEnvelope tags a guest response as either a successful payload (tag
// 0) or an error chain (tag 1), a minimal discriminated union standing in
// for the component model's `result<T, error>` return type, which wazero's
// public API has no direct representation for.
const (
	tagOK  byte = 0
	tagErr byte = 1
)

func unwrapTagged(raw []byte, decoder *trustdata.Decoder) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("guest returned an empty response")
	}
	switch raw[0] {
	case tagOK:
		return raw[1:], nil
	case tagErr:
		var w wireErrorChain
		if err := json.Unmarshal(raw[1:], &w); err != nil {
			return nil, fmt.Errorf("decode guest error chain: %w", err)
		}
		chain := errorChainFromWire(&w)
		if err := decoder.WalkErrorChain(chain); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s", flattenErrorChain(chain))
	default:
		return nil, fmt.Errorf("guest response carries unknown envelope tag %d", raw[0])
	}
}
