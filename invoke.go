package udfwasm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/influxdata/datafusion-udf-wasm/internal/bridge"
	"github.com/influxdata/datafusion-udf-wasm/internal/metrics"
	"github.com/influxdata/datafusion-udf-wasm/internal/shim"
	"github.com/influxdata/datafusion-udf-wasm/internal/trustdata"
)

// returnTypeRequest/returnTypeResponse are the JSON envelope crossing the
// ABI for ScalarUdf::return_type (spec.md §4.5).
type returnTypeRequest struct {
	Index    int            `json:"index"`
	ArgTypes []wireDataType `json:"arg_types"`
}

// ReturnType forwards arg_types to the guest under a fresh epoch deadline
// and validates the response via the decoder (spec.md §4.5: "forwards to
// guest under a fresh epoch deadline; response passes the decoder (depth,
// name lengths, metadata)").
func (u *WasmScalarUdf) ReturnType(ctx context.Context, argTypes []trustdata.DataType) (trustdata.DataType, error) {
	u.load.store.Mutex.Lock()
	defer u.load.store.Mutex.Unlock()

	req := returnTypeRequest{Index: u.index}
	for _, t := range argTypes {
		req.ArgTypes = append(req.ArgTypes, dataTypeToWire(t))
	}
	body, err := json.Marshal(req)
	if err != nil {
		return trustdata.DataType{}, AsInvalidArgument(fmt.Errorf("encode return_type request: %w", err))
	}

	deadline := shim.Deadline(u.load.perm.epochTickTime, u.load.perm.inplaceBlockingMaxTicks)
	raw, err := shim.InPlaceBlocking(ctx, deadline, func(ctx context.Context) ([]byte, error) {
		return u.load.abi.callBytes(ctx, "udf_return_type", body)
	})
	if err != nil {
		return trustdata.DataType{}, classifyShimError(err)
	}

	payload, err := unwrapTagged(raw, u.load.decoder)
	if err != nil {
		return trustdata.DataType{}, AsGuestTrap(err, u.load.store.Stderr.String())
	}
	var w wireDataType
	if err := json.Unmarshal(payload, &w); err != nil {
		return trustdata.DataType{}, AsProtocolError(fmt.Errorf("decode return_type response: %w", err))
	}
	dt := dataTypeFromWire(w)
	if err := u.load.decoder.WalkDataType(dt, 0); err != nil {
		return trustdata.DataType{}, err
	}
	return dt, nil
}

// invokeRequest is the JSON envelope for invoke_with_args; array payloads
// travel inside it as raw Arrow IPC bytes, the same encoding
// internal/bridge produces and consumes directly (spec.md §4.6 step 3).
type invokeRequest struct {
	Index             int               `json:"index"`
	NumberRows        int               `json:"number_rows"`
	ReturnField       []byte            `json:"return_field"`
	ConfigOptionsHash string            `json:"config_options_hash"`
	ConfigOptions     []byte            `json:"config_options"`
	Args              []invokeArgument  `json:"args"`
}

type invokeArgument struct {
	Field []byte `json:"field"`
	Array []byte `json:"array"`
}

// InvokeWithArgs implements spec.md §4.6, the primary UDF call path.
func (u *WasmScalarUdf) InvokeWithArgs(ctx context.Context, args []bridge.ColumnarValue, numberRows int, returnField arrow.Field, configOptions map[string]string) (bridge.ColumnarValue, error) {
	start := time.Now()
	defer func() { metrics.InvokeLatency.Observe(time.Since(start).Seconds()) }()

	u.load.store.Mutex.Lock()
	defer u.load.store.Mutex.Unlock()

	req := invokeRequest{Index: u.index, NumberRows: numberRows}

	returnFieldWire, err := u.load.bridge.EncodeField(returnField)
	if err != nil {
		return bridge.ColumnarValue{}, AsInvalidArgument(WithContext("encode return field", err))
	}
	req.ReturnField = returnFieldWire.Bytes

	cfgWire, err := u.load.bridge.EncodeConfigOptions(configOptions)
	if err != nil {
		return bridge.ColumnarValue{}, AsInvalidArgument(WithContext("encode config options", err))
	}
	req.ConfigOptionsHash = cfgWire.Hash
	req.ConfigOptions = cfgWire.Bytes

	for _, a := range args {
		fieldWire, err := u.load.bridge.EncodeField(a.Field)
		if err != nil {
			return bridge.ColumnarValue{}, AsInvalidArgument(WithContext("encode argument field", err))
		}
		arrayWire, err := u.load.bridge.EncodeArray(a.Array, a.Field)
		if err != nil {
			return bridge.ColumnarValue{}, AsInvalidArgument(WithContext("encode argument array", err))
		}
		req.Args = append(req.Args, invokeArgument{Field: fieldWire.Bytes, Array: arrayWire})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return bridge.ColumnarValue{}, AsInvalidArgument(fmt.Errorf("encode invoke request: %w", err))
	}

	deadline := shim.Deadline(u.load.perm.epochTickTime, u.load.perm.inplaceBlockingMaxTicks)
	raw, err := shim.InPlaceBlocking(ctx, deadline, func(ctx context.Context) ([]byte, error) {
		return u.load.abi.callBytes(ctx, "udf_invoke", body)
	})
	if err != nil {
		return bridge.ColumnarValue{}, classifyShimError(err)
	}

	payload, err := unwrapTagged(raw, u.load.decoder)
	if err != nil {
		return bridge.ColumnarValue{}, AsGuestTrap(err, u.load.store.Stderr.String())
	}

	result, err := u.load.bridge.DecodeArray(payload)
	if err != nil {
		return bridge.ColumnarValue{}, AsProtocolError(WithContext("decode invoke_with_args response", err))
	}

	if result.Array.Len() != numberRows {
		return bridge.ColumnarValue{}, RowCountMismatch(result.Array.Len(), numberRows)
	}
	if err := u.load.decoder.WalkField(arrowFieldToTrustData(result.Field), 0); err != nil {
		return bridge.ColumnarValue{}, err
	}

	return result, nil
}

// arrowFieldToTrustData projects a decoded arrow.Field onto the
// internal/trustdata shapes so the returned array's schema still passes
// through the same bounded walker as every other guest-returned structure
// (spec.md §4.3: "returned ColumnarValue structure descriptor").
func arrowFieldToTrustData(f arrow.Field) trustdata.Field {
	meta := map[string]string{}
	md := f.Metadata
	for i, k := range md.Keys() {
		meta[k] = md.Values()[i]
	}
	return trustdata.Field{
		Name:     f.Name,
		Type:     arrowDataTypeToTrustData(f.Type),
		Nullable: f.Nullable,
		Metadata: meta,
	}
}

func arrowDataTypeToTrustData(t arrow.DataType) trustdata.DataType {
	switch dt := t.(type) {
	case *arrow.ListType:
		elem := arrowFieldToTrustData(dt.ElemField())
		return trustdata.DataType{Kind: "List", Elem: &elem.Type}
	case *arrow.StructType:
		fields := make([]trustdata.Field, dt.NumFields())
		for i := 0; i < dt.NumFields(); i++ {
			fields[i] = arrowFieldToTrustData(dt.Field(i))
		}
		return trustdata.DataType{Kind: "Struct", Fields: fields}
	default:
		return trustdata.DataType{Kind: t.ID().String()}
	}
}

// classifyShimError maps the async-in-sync shim's sentinel errors onto the
// resource-exhaustion taxonomy (spec.md §7: "deadline elapsed" and
// "in-place blocking only works for multi-thread runtimes" are both
// resource-exhaustion / configuration failures, not guest traps).
func classifyShimError(err error) error {
	return AsResourceExhausted(err)
}
