package udfwasm

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/influxdata/datafusion-udf-wasm/internal/shim"
	"github.com/influxdata/datafusion-udf-wasm/preamble"
)

// Error kinds, mapped from every source named in spec.md §7. Each is backed
// by a github.com/containerd/errdefs class so callers can use errdefs.IsX
// the same way _examples/moby-moby does in daemon/create_test.go.
//
//   - Planning            -> errdefs.InvalidArgument
//   - Configuration       -> errdefs.InvalidArgument
//   - Resource exhaustion -> errdefs.ResourceExhausted
//   - Guest trap          -> errdefs.Unknown
//   - Protocol            -> errdefs.DataLoss
//   - Engine              -> errdefs.Unavailable
var (
	// ErrNonUniqueUDFName is returned when two UDFs in one load share a name (S3).
	ErrNonUniqueUDFName = errors.New("non-unique UDF name")
	// ErrTooManyUDFs is returned when a guest publishes more than max_udfs (S9).
	ErrTooManyUDFs = errors.New("too many UDFs")
	// ErrUnsupportedLanguage is returned by the preamble parser for an unregistered LANGUAGE clause.
	ErrUnsupportedLanguage = preamble.ErrUnsupportedLanguage
	// ErrNoUDFFound is returned when a preamble script has no CREATE FUNCTION body.
	ErrNoUDFFound = preamble.ErrNoUDFFound
	// ErrNoSQLFound is returned when a preamble script's residual SQL is empty.
	ErrNoSQLFound = preamble.ErrNoSQLFound
	// ErrCompressedIPCBody carries the message the compression sniffer
	// (internal/ipc, §4.10) uses when it rejects a compressed body. The
	// sniffer builds its own error with that text and does not return this
	// value, so errors.Is does not match the sniffer's error against it.
	ErrCompressedIPCBody = errors.New("compressed IPC body is not permitted across the trust boundary")
	// ErrSingleThreadedRuntime is returned by the async-in-sync shim (§4.8).
	ErrSingleThreadedRuntime = shim.ErrSingleThreaded
)

// LimitExceeded is the structured error carried by every trusted-data limit
// breach (spec.md §4.3, §7). It renders as
// "Resources exhausted: <name>: got=X, limit=Y", matching S4's expectation.
type LimitExceeded struct {
	Name      string
	Limit     int
	Current   int
	Requested int
}

func (e *LimitExceeded) Error() string {
	got := e.Current + e.Requested
	return fmt.Sprintf("Resources exhausted: %s: got=%d, limit=%d", e.Name, got, e.Limit)
}

// AsResourceExhausted wraps a LimitExceeded (or any resource-exhaustion
// cause) so errdefs.IsResourceExhausted matches it.
func AsResourceExhausted(err error) error {
	if err == nil {
		return nil
	}
	return errdefs.ResourceExhausted(err)
}

// AsInvalidArgument wraps a planning/configuration error.
func AsInvalidArgument(err error) error {
	if err == nil {
		return nil
	}
	return errdefs.InvalidArgument(err)
}

// AsGuestTrap wraps an engine trap, appending the captured stderr ring
// buffer contents per spec.md §7 ("captured with the stderr ring-buffer
// contents appended").
func AsGuestTrap(err error, stderr string) error {
	if err == nil {
		return nil
	}
	if stderr != "" {
		err = fmt.Errorf("%w (guest stderr: %s)", err, stderr)
	}
	return errdefs.Unknown(err)
}

// AsProtocolError wraps a malformed-IPC / row-count-mismatch error.
func AsProtocolError(err error) error {
	if err == nil {
		return nil
	}
	return errdefs.DataLoss(err)
}

// AsEngineError wraps an instantiation/linker failure.
func AsEngineError(err error) error {
	if err == nil {
		return nil
	}
	return errdefs.Unavailable(err)
}

// WithContext prefixes err with a high-level operation description, per
// spec.md §7's "context" propagation policy ("call ScalarUdf::return_type",
// "populate root FS from TAR", ...). Every link remains unwrappable via
// errors.Is/errors.As.
func WithContext(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// RowCountMismatch builds the exact message shape required by S2.
func RowCountMismatch(got, want int) error {
	return AsProtocolError(fmt.Errorf("UDF returned array of length %d but should produce %d rows", got, want))
}
