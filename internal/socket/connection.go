package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/registry"
	"github.com/gorilla/websocket"
)

// connection is one probe websocket
//
// serve is the single error boundary: every failure inside the connection
// ends up there and is handled in exactly one way.
type connection struct {
	id         string
	ip         string
	remoteAddr string
	query      url.Values
	ws         *websocket.Conn
	handler    *Handler
	logger     *logger.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// serve runs the connection until it closes
func (c *connection) serve() {
	err := c.run()

	var protocolErr *ProtocolError
	switch {
	case err == nil:
		c.close(websocket.CloseNormalClosure, "")

	case errors.As(err, &protocolErr):
		c.fail(protocolErr)

	default:
		c.logger.Error().
			Err(err).
			Str("remote_addr", c.remoteAddr).
			Msg("Probe connection failed")
		c.close(websocket.CloseInternalServerErr, "internal error")
	}
}

// run performs the handshake, then reads frames until the connection ends
// Panics are turned into errors so they reach the boundary in serve
func (c *connection) run() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in probe connection: %v", rec)
		}
	}()

	hs, err := c.handler.parseHandshake(c.query)
	if err != nil {
		return err
	}

	c.handler.registry.Connect(registry.ConnectRequest{
		ID:        c.id,
		IP:        c.ip,
		Version:   hs.Version,
		Tags:      hs.Tags,
		Resolvers: hs.Resolvers,
		Terminate: c.terminate,
	})
	defer c.handler.registry.Disconnect(c.id)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(stopPing)

	return c.readLoop()
}

// readLoop dispatches inbound frames
// It returns nil when the peer goes away and a *ProtocolError on a bad frame
func (c *connection) readLoop() error {
	pongWait := c.handler.config.PongWait

	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return protocolErrorf(ReasonMalformedFrame, "malformed frame: larger than %d bytes", maxFrameSize)
			}
			if c.closed.Load() || isDisconnect(err) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		// any traffic proves the probe is alive
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			return protocolErrorf(ReasonMalformedFrame, "malformed frame: expected text message")
		}

		if err := c.handleFrame(data); err != nil {
			return err
		}
	}
}

// handleFrame applies one inbound event
func (c *connection) handleFrame(data []byte) error {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return protocolErrorf(ReasonMalformedFrame, "malformed frame: %v", err)
	}

	switch frame.Event {
	case EventReady:
		c.handler.registry.Ready(c.id)

	case EventDNSUpdate:
		var resolvers []string
		if err := json.Unmarshal(frame.Payload, &resolvers); err != nil {
			return protocolErrorf(ReasonMalformedFrame, "malformed %s payload: %v", EventDNSUpdate, err)
		}
		if err := c.handler.validator.Var(resolvers, "max=32,dive,required,max=255"); err != nil {
			return protocolErrorf(ReasonMalformedFrame, "invalid %s payload: %v", EventDNSUpdate, err)
		}
		c.handler.registry.UpdateResolvers(c.id, resolvers)

	default:
		return protocolErrorf(ReasonUnknownEvent, "unknown event %q", frame.Event)
	}

	return nil
}

// pingLoop keeps the connection alive until stop is closed
func (c *connection) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.handler.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

// terminate is the registry's callback for rejecting the probe
func (c *connection) terminate(err error) {
	c.fail(&ProtocolError{Reason: ReasonAnonymizer, Err: err})
}

// fail logs the protocol error, reports it to the probe and closes the connection
// Only the first failure or close wins
func (c *connection) fail(err *ProtocolError) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.logger.Warn().
			Str("remote_addr", c.remoteAddr).
			Str("reason", err.Reason).
			Str("cause", err.Error()).
			Msg("Probe protocol error")
		if c.handler.metrics != nil {
			c.handler.metrics.ProbeProtocolErrors.WithLabelValues(err.Reason).Inc()
		}

		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if writeErr := c.ws.WriteJSON(newErrorFrame(c.id, err)); writeErr != nil {
			c.logger.Debug().Err(writeErr).Msg("Failed to emit error frame")
		}
		c.writeMu.Unlock()

		c.shutdown(websocket.ClosePolicyViolation, err.Reason)
	})
}

// close tears the connection down without reporting an error
func (c *connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.shutdown(code, reason)
	})
}

// shutdown sends a close frame and closes the socket
func (c *connection) shutdown(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
	c.ws.Close()
}

// isDisconnect reports whether err is the peer (or the keepalive) ending the connection
func isDisconnect(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
