// Package socket accepts probe websocket connections and feeds their events to the registry.
package socket

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/metrics"
	"github.com/evyataryagoni/geoprobe/internal/registry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Defaults for the keepalive and frame limits
const (
	defaultPingInterval = 25 * time.Second
	defaultPongWait     = 60 * time.Second
	writeWait           = 10 * time.Second
	maxFrameSize        = 64 << 10
)

// Registry is the part of the probe registry the socket layer drives
type Registry interface {
	Connect(req registry.ConnectRequest)
	Ready(id string)
	UpdateResolvers(id string, resolvers []string)
	Disconnect(id string)
}

// Config holds the websocket keepalive settings
type Config struct {
	PingInterval time.Duration // how often the server pings the probe
	PongWait     time.Duration // how long a probe may stay silent (must exceed PingInterval)
}

// handshake is the probe's self-description, taken from the connect URL
type handshake struct {
	Version   string   `validate:"required,semver"`
	Tags      []string `validate:"max=32,dive,required,max=64"`
	Resolvers []string `validate:"max=32,dive,required,max=255"`
}

// Handler upgrades probe connections and serves them until they close
type Handler struct {
	registry  Registry
	upgrader  websocket.Upgrader
	validator *validator.Validate
	config    Config
	metrics   *metrics.Metrics
	logger    *logger.Logger

	mu    sync.Mutex
	conns map[string]*connection
}

// NewHandler creates the probe websocket handler
//
// Parameters:
//   - reg: the probe registry
//   - cfg: keepalive settings (zero values use the defaults)
//   - m: metrics collector (optional, can be nil)
//   - log: logger (optional, can be nil)
func NewHandler(reg Registry, cfg Config, m *metrics.Metrics, log *logger.Logger) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = defaultPongWait
		if cfg.PongWait <= cfg.PingInterval {
			cfg.PongWait = 2 * cfg.PingInterval
		}
	}

	return &Handler{
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// probes are not browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validator: validator.New(),
		config:    cfg,
		metrics:   m,
		logger:    logger.OrNop(log).WithComponent("ProbeSocket"),
		conns:     make(map[string]*connection),
	}
}

// ServeHTTP handles GET /v1/probes/connect?version=&tags=&resolvers=
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		h.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	c := &connection{
		id:         id,
		ip:         clientIP(r),
		remoteAddr: r.RemoteAddr,
		query:      r.URL.Query(),
		ws:         ws,
		handler:    h,
		logger:     h.logger.WithProbe(id),
	}

	h.track(c)
	defer h.untrack(id)

	c.serve()
}

// Active returns the number of open probe connections
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every open probe connection (used on shutdown)
// Hijacked connections are not closed by http.Server.Shutdown
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Handler) track(c *connection) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Handler) untrack(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// parseHandshake reads and validates the connect query
func (h *Handler) parseHandshake(query url.Values) (*handshake, error) {
	hs := &handshake{
		Version:   strings.TrimPrefix(strings.TrimSpace(query.Get("version")), "v"),
		Tags:      splitList(query.Get("tags")),
		Resolvers: splitList(query.Get("resolvers")),
	}

	if err := h.validator.Struct(hs); err != nil {
		return nil, protocolErrorf(ReasonHandshake, "invalid handshake: %v", err)
	}
	return hs, nil
}

// splitList parses a comma separated query value, dropping empty items
func splitList(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// clientIP returns the probe address
// RealIP middleware may already have replaced RemoteAddr with a bare IP
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
