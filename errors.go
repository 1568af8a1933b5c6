package framegear

import (
	"github.com/pkg/errors"
)

// Error kinds returned by gears and sessions. Match them with errors.Is;
// the concrete error is usually an *OpError carrying the failed operation.
var (
	// ErrConfig is returned by constructors for invalid or conflicting options.
	ErrConfig = errors.New("invalid configuration")
	// ErrBind is returned when the receive side cannot bind its address.
	ErrBind = errors.New("bind failed")
	// ErrConnect is returned when the send side cannot reach or agree with its peer.
	ErrConnect = errors.New("connect failed")
	// ErrDecode is returned for malformed frame payloads.
	ErrDecode = errors.New("malformed frame payload")
	// ErrInvalidFrame is returned when encoding a frame whose buffer does not match its shape.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrTransport is returned for socket-level failures such as a peer reset.
	ErrTransport = errors.New("transport failure")
	// ErrRoleViolation is returned when an operation does not match the gear's role.
	ErrRoleViolation = errors.New("operation not permitted for role")
	// ErrNotLaunched is returned when a gear is used before Launch.
	ErrNotLaunched = errors.New("gear not launched")
	// ErrClosed is returned when operating on a closed gear or session.
	ErrClosed = errors.New("closed")
	// ErrTimeout is returned when a reply does not arrive in time.
	ErrTimeout = errors.New("timed out")
	// ErrMessageTooLarge is returned when a message exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
)

// ErrBufferFull is returned when a non-suspending send finds the queue full.
// Callers can drop the frame, retry later, or switch to a blocking pattern.
var ErrBufferFull = errors.New("send buffer full")

// errPeerEnded marks a link whose peer finished the stream cleanly.
var errPeerEnded = errors.New("peer ended the stream")

// errPatternMismatch is reported when both ends disagree on the pattern.
var errPatternMismatch = errors.New("pattern mismatch")

// OpError describes a failed operation. Kind is one of the Err* values
// above and Err, when set, is the underlying cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Is reports whether target is the kind of this error.
func (e *OpError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}
