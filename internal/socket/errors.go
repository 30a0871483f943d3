package socket

import "fmt"

// Protocol error reasons, used as the metrics label
const (
	ReasonHandshake      = "handshake"
	ReasonMalformedFrame = "malformed_frame"
	ReasonUnknownEvent   = "unknown_event"
	ReasonAnonymizer     = "anonymizer"
)

// ProtocolError is a connection-level error that is reported to the probe
// before the connection is closed
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	return e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErrorf(reason, format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: fmt.Errorf(format, args...)}
}
