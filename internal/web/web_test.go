package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agendad/internal/aggregate"
	"agendad/internal/cache"
	"agendad/internal/config"
	"agendad/internal/metrics"
	"agendad/internal/model"
)

type eventsPayload struct {
	Total  int           `json:"total"`
	Events []model.Event `json:"events"`
}

// newTestServer wires a real aggregator over an httptest upstream serving
// one JSON source.
func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	cfg.Normalize()

	m := metrics.New()
	agg, err := aggregate.New(cfg, cache.New(), m)
	if err != nil {
		t.Fatalf("aggregate.New: %v", err)
	}
	s := NewServer(cfg, agg, m)
	s.now = func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) }
	return s
}

func newUpstream(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleEvents(t *testing.T) {
	upstream := newUpstream(t, `[
		{"id": "in", "title": "Dans la fenêtre", "date": "2025-01-10T18:00:00Z"},
		{"id": "out", "title": "Hors fenêtre", "date": "2025-03-10T18:00:00Z"}
	]`)

	cfg := config.DefaultConfig()
	cfg.Sources = []config.SourceConfig{{Name: "api", Kind: "json-api", URL: upstream.URL}}
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/events?days=31", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var payload eventsPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if payload.Total != 1 {
		t.Fatalf("total = %d, want 1 (events: %+v)", payload.Total, payload.Events)
	}
	ev := payload.Events[0]
	if ev.ID != "in" || ev.Source != "api" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.DateFormatted == "" {
		t.Error("dateFormatted missing")
	}
}

func TestHandleEventsUpstreamDownStillOK(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.Backoff = time.Millisecond
	// Closed port: the source always fails.
	cfg.Sources = []config.SourceConfig{{Name: "down", Kind: "json-api", URL: "http://127.0.0.1:1/api"}}
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, degraded upstream must not surface an error", rec.Code)
	}
	var payload eventsPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if payload.Total != 0 {
		t.Errorf("total = %d, want 0", payload.Total)
	}
	if payload.Events == nil {
		t.Error("events should serialize as an empty array, not null")
	}
}

func TestHandleEventsMethodNotAllowed(t *testing.T) {
	cfg := config.DefaultConfig()
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, config.DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, config.DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s := newTestServer(t, cfg)
	h := s.Handler()

	// No credentials: 401 with a challenge.
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without creds = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate challenge")
	}

	// Wrong password.
	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status with bad creds = %d, want 401", rec.Code)
	}

	// Correct credentials.
	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status with good creds = %d, want 200", rec.Code)
	}

	// /health stays open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health behind auth = %d, want 200", rec.Code)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	s := newTestServer(t, config.DefaultConfig())

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("bug in the core")
	})
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rec := httptest.NewRecorder()
	s.recoverMiddleware(panicking).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON error body: %v", err)
	}
	if resp["error"] == "" {
		t.Error("missing error field")
	}
}
