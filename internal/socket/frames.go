package socket

import "encoding/json"

// Event names exchanged with probes
const (
	EventReady     = "ready"
	EventDNSUpdate = "dns:update"
	EventAPIError  = "api:error"
)

// inboundFrame is a message sent by a probe
type inboundFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// errorFrame is emitted to a probe right before its connection is closed
type errorFrame struct {
	Event   string       `json:"event"`
	Payload errorPayload `json:"payload"`
}

type errorPayload struct {
	Message string    `json:"message"`
	Info    errorInfo `json:"info"`
}

type errorInfo struct {
	SocketID string `json:"socketId"`
}

func newErrorFrame(socketID string, err error) errorFrame {
	return errorFrame{
		Event: EventAPIError,
		Payload: errorPayload{
			Message: err.Error(),
			Info:    errorInfo{SocketID: socketID},
		},
	}
}
