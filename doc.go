// Package udfwasm implements a WebAssembly sandbox host that executes
// untrusted user-defined scalar functions (UDFs) on behalf of a columnar
// query engine.
//
// A guest component is compiled once via Compile, then loaded with Load,
// which runs its root_fs_tar and scalar_udfs exports and returns one
// WasmScalarUdf per published function. Each call into a UDF crosses the
// sandbox boundary through internal/bridge (columnar array encoding),
// internal/trustdata (bounded decoding of guest-returned structures), and
// internal/shim (deadline enforcement for an otherwise-synchronous call).
//
// Resource usage is bounded throughout: internal/limiter gates guest memory
// and table growth against a shared Pool, internal/vfs caps the guest's
// virtual filesystem, and internal/ipc rejects any compressed array payload
// before it is decoded.
package udfwasm
