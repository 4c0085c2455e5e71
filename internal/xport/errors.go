package xport

import "errors"

// Error taxonomy per the design's error handling section. Adapters and
// the dispatcher wrap these with fmt.Errorf("%w: detail", ErrX); callers
// branch with errors.Is.
var (
	// ErrConnectionRefused is returned when a handshake failed before
	// reaching the Connected phase.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrTimedOut is returned when a per-adapter handshake deadline
	// elapsed before the handshake completed.
	ErrTimedOut = errors.New("timed out")

	// ErrConnectionReset is returned when the peer closed, or the inner
	// stream ended, mid-operation.
	ErrConnectionReset = errors.New("connection reset")

	// ErrBrokenPipe is returned when a write is attempted after the
	// stream's phase has become Closed.
	ErrBrokenPipe = errors.New("broken pipe")

	// ErrInvalidData is returned for protocol-level malformation: TLS
	// decode errors, malformed broker JSON, decrypt failure on a
	// blinded blob.
	ErrInvalidData = errors.New("invalid data")

	// ErrUnsupported is returned when the requested operation is
	// structurally impossible in this client (listening, UDP). Always
	// terminal.
	ErrUnsupported = errors.New("unsupported")
)
