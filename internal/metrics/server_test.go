package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServeHealthOK(t *testing.T) {
	s := NewServer(":0", "/metrics")
	s.SetHealthFunc(func() map[string]bool {
		return map[string]bool{"capture": true, "model": true, "datastore": true, "pubsub": true}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.serveHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status string          `json:"status"`
		Checks map[string]bool `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("expected status ok, got %s", body.Status)
	}
}

func TestServeHealthDegraded(t *testing.T) {
	s := NewServer(":0", "/metrics")
	s.SetHealthFunc(func() map[string]bool {
		return map[string]bool{"capture": true, "model": false, "datastore": true, "pubsub": true}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.serveHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
