package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/evyataryagoni/geoprobe/internal/geoip"
	"github.com/evyataryagoni/geoprobe/internal/handler"
	"github.com/evyataryagoni/geoprobe/internal/limiter"
	"github.com/evyataryagoni/geoprobe/internal/metrics"
	"github.com/evyataryagoni/geoprobe/internal/models"
	"github.com/evyataryagoni/geoprobe/internal/registry"
	v1 "github.com/evyataryagoni/geoprobe/internal/router/v1"
	"github.com/evyataryagoni/geoprobe/internal/socket"
	"github.com/evyataryagoni/geoprobe/internal/whitelist"
)

// testServer wires the full HTTP surface on top of a mock locator
type testServer struct {
	server  *httptest.Server
	limiter *limiter.MockLimiter
}

func newTestServer(t *testing.T, locator *registry.MockLocator) *testServer {
	t.Helper()

	promReg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(promReg)

	reg := registry.New(locator, m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go reg.Run(ctx)
	t.Cleanup(cancel)

	sockets := socket.NewHandler(reg, socket.Config{}, m, nil)
	t.Cleanup(sockets.CloseAll)

	lim := limiter.NewMockLimiter(true)
	handlers := v1.Handlers{
		GeoIP:  handler.NewGeoIPHandler(locator, nil),
		Probes: handler.NewProbeHandler(reg),
		Stats:  handler.NewStatsHandler(reg, sockets),
		Admin:  handler.NewAdminHandler(whitelist.NewStatic("1.1.1.1"), nil),
		Socket: sockets,
	}

	server := httptest.NewServer(SetupRouter(handlers, lim, m, promReg, nil))
	t.Cleanup(server.Close)

	return &testServer{server: server, limiter: lim}
}

func (s *testServer) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(s.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp, string(body)
}

func (s *testServer) stats(t *testing.T) handler.ProbeStats {
	t.Helper()

	_, body := s.get(t, "/v1/stats")
	var stats handler.ProbeStats
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	return stats
}

func dallas() *models.LocationInfo {
	state := "TX"
	loc := &models.LocationInfo{
		Continent: "NA",
		Country:   "US",
		State:     &state,
		Region:    "Texas",
		City:      "Dallas",
		Latitude:  32.7831,
		Longitude: -96.8067,
		ASN:       20473,
		Network:   "The Constant Company, LLC",
	}
	loc.Normalize()
	return loc
}

// TestRouter_Health tests the health check endpoint
func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, registry.NewMockLocator(nil))

	resp, body := s.get(t, "/health")

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if body != "OK" {
		t.Errorf("expected body 'OK', got '%s'", body)
	}
}

// TestRouter_Routes tests status codes of the v1 endpoints
func TestRouter_Routes(t *testing.T) {
	locator := registry.NewMockLocator(&geoip.LookupError{IP: "10.0.0.1", Err: geoip.ErrUnresolvable})
	locator.Locations["45.32.1.1"] = dallas()
	s := newTestServer(t, locator)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"empty probe list", http.MethodGet, "/v1/probes", http.StatusOK},
		{"stats", http.MethodGet, "/v1/stats", http.StatusOK},
		{"geoip resolved", http.MethodGet, "/v1/geoip?ip=45.32.1.1", http.StatusOK},
		{"geoip unresolvable", http.MethodGet, "/v1/geoip?ip=10.0.0.1", http.StatusNotFound},
		{"geoip missing ip", http.MethodGet, "/v1/geoip", http.StatusBadRequest},
		{"whitelist reload without file", http.MethodPost, "/v1/admin/whitelist/reload", http.StatusInternalServerError},
		{"reload wrong method", http.MethodGet, "/v1/admin/whitelist/reload", http.StatusMethodNotAllowed},
		{"connect without upgrade", http.MethodGet, "/v1/probes/connect?version=0.28.0", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/v2/geoip", http.StatusNotFound},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, s.server.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, resp.StatusCode)
			}
		})
	}
}

// TestRouter_RateLimited tests that the limiter guards every route
func TestRouter_RateLimited(t *testing.T) {
	s := newTestServer(t, registry.NewMockLocator(nil))
	s.limiter.SetAllow(false)

	resp, _ := s.get(t, "/v1/probes")

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", resp.StatusCode)
	}
	if calls := s.limiter.Calls(); len(calls) != 1 || calls[0] != "127.0.0.1" {
		t.Errorf("expected limiter keyed by client IP, got %v", calls)
	}
}

// TestRouter_ProbeLifecycle tests a probe going from connect to the public list
func TestRouter_ProbeLifecycle(t *testing.T) {
	locator := registry.NewMockLocator(nil)
	locator.Locations["127.0.0.1"] = dallas()
	s := newTestServer(t, locator)

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") +
		"/v1/probes/connect?version=0.28.0&tags=edge&resolvers=1.1.1.1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"event": socket.EventReady}); err != nil {
		t.Fatalf("failed to send ready: %v", err)
	}

	var probes []models.PublicProbe
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body := s.get(t, "/v1/probes")
		if err := json.Unmarshal([]byte(body), &probes); err != nil {
			t.Fatalf("failed to decode probes: %v", err)
		}
		if len(probes) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(probes) != 1 {
		t.Fatalf("expected 1 ready probe, got %d", len(probes))
	}
	if probes[0].Location.City != "Dallas" || probes[0].Version != "0.28.0" {
		t.Errorf("unexpected probe %+v", probes[0])
	}
	if len(probes[0].Tags) != 1 || probes[0].Tags[0] != "edge" {
		t.Errorf("unexpected tags %v", probes[0].Tags)
	}

	if stats := s.stats(t); stats != (handler.ProbeStats{Connections: 1, Tracked: 1, Ready: 1}) {
		t.Errorf("unexpected stats while connected %+v", stats)
	}

	// Disconnect removes it again
	conn.Close()
	var stats handler.ProbeStats
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if stats = s.stats(t); stats == (handler.ProbeStats{}) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if stats != (handler.ProbeStats{}) {
		t.Errorf("expected no probes after disconnect, got %+v", stats)
	}
}
