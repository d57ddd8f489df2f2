// Package runtime implements the client-side Modbus scheduling engine:
// Items and RunItems, the Message family, the per-device state machine
// and the per-port cooperative arbiter described in the project design.
package runtime

import "fmt"

// StatusCode is the tri-state result of a transport operation: exactly one
// of IsGood, IsProcessing or IsBad is true for any value. Collapsing this to
// a plain error would break the cooperative scheduling contract, since
// "processing" is not a failure — it is the signal that tells a
// DeviceRunnable to yield the port to the next device.
type StatusCode int

const (
	// StatusGood indicates a completed, successful exchange.
	StatusGood StatusCode = iota
	// StatusProcessing indicates the transport accepted the call but the
	// exchange has not finished; the caller must poll again.
	StatusProcessing

	// StatusBadTimeout, ...: terminal failures. Protocol exception codes are
	// mapped separately, from statusBadExceptionBase (0x100) upward, so they
	// never collide with these.
	StatusBadTimeout
	StatusBadCRC
	StatusBadConnection
	StatusBadInvalidArgument

	// Modbus exception responses, offset to keep them distinguishable from
	// transport-level failures above.
	statusBadExceptionBase = 0x100
)

// StatusBadException constructs a Bad status carrying a Modbus exception code
// (illegal function, illegal data address, ...).
func StatusBadException(ec uint8) StatusCode {
	return StatusCode(statusBadExceptionBase + int(ec))
}

// ExceptionCode returns the underlying Modbus exception code and true if s
// was built with StatusBadException.
func (s StatusCode) ExceptionCode() (uint8, bool) {
	if int(s) >= statusBadExceptionBase && int(s) < statusBadExceptionBase+0x100 {
		return uint8(int(s) - statusBadExceptionBase), true
	}
	return 0, false
}

// IsGood reports whether s represents a successful, terminal exchange.
func (s StatusCode) IsGood() bool { return s == StatusGood }

// IsProcessing reports whether s is the non-error suspension marker.
func (s StatusCode) IsProcessing() bool { return s == StatusProcessing }

// IsBad reports whether s is a terminal failure of any kind.
func (s StatusCode) IsBad() bool { return !s.IsGood() && !s.IsProcessing() }

// String renders a status for logging.
func (s StatusCode) String() string {
	switch {
	case s.IsGood():
		return "Good"
	case s.IsProcessing():
		return "Processing"
	}
	if ec, ok := s.ExceptionCode(); ok {
		return fmt.Sprintf("Exception(0x%02X)", ec)
	}
	switch s {
	case StatusBadTimeout:
		return "BadTimeout"
	case StatusBadCRC:
		return "BadCRC"
	case StatusBadConnection:
		return "BadConnection"
	case StatusBadInvalidArgument:
		return "BadInvalidArgument"
	default:
		return fmt.Sprintf("Bad(%d)", int(s))
	}
}
