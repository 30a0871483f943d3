package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

type stubLister struct {
	probes []models.PublicProbe
}

func (s stubLister) ReadyProbes() []models.PublicProbe {
	return s.probes
}

// TestProbeHandler_List_Empty tests that an empty registry yields []
func TestProbeHandler_List_Empty(t *testing.T) {
	for _, probes := range [][]models.PublicProbe{nil, {}} {
		handler := NewProbeHandler(stubLister{probes: probes})

		req := httptest.NewRequest(http.MethodGet, "/v1/probes", nil)
		rec := httptest.NewRecorder()

		handler.List(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
			t.Errorf("expected [], got %s", body)
		}
	}
}

// TestProbeHandler_List tests the ready probe summaries
func TestProbeHandler_List(t *testing.T) {
	state := "TX"
	probes := []models.PublicProbe{
		{
			Version: "0.28.0",
			Location: models.PublicLocation{
				Continent: "NA", Region: "Texas", Country: "US", State: &state, City: "Dallas",
				ASN: 20473, Latitude: 32.78, Longitude: -96.8, Network: "The Constant Company, LLC",
			},
			Tags:      []string{},
			Resolvers: []string{"1.1.1.1"},
		},
	}
	handler := NewProbeHandler(stubLister{probes: probes})

	req := httptest.NewRequest(http.MethodGet, "/v1/probes", nil)
	rec := httptest.NewRecorder()

	handler.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var decoded []map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 probe, got %d", len(decoded))
	}

	probe := decoded[0]
	if probe["version"] != "0.28.0" {
		t.Errorf("unexpected version %v", probe["version"])
	}
	location := probe["location"].(map[string]interface{})
	if location["state"] != "TX" {
		t.Errorf("expected state TX, got %v", location["state"])
	}
	if _, ok := location["normalizedCity"]; ok {
		t.Error("normalized fields must not be exposed")
	}
	if tags, ok := probe["tags"].([]interface{}); !ok || len(tags) != 0 {
		t.Errorf("expected empty tags array, got %v", probe["tags"])
	}
}
