package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sluiceio/sluice/internal/engine"
	"github.com/sluiceio/sluice/internal/monitor"
	"github.com/sluiceio/sluice/internal/wasmtest"
)

func newTestEngine(t *testing.T, start bool) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.Config{QueueCapacity: 16})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if start {
		eng.Start()
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return eng
}

func getPath(t *testing.T, handler http.Handler, path, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_OK(t *testing.T) {
	eng := newTestEngine(t, true)
	s := New(Config{Addr: "127.0.0.1:0"}, eng, nil, nil)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if !resp.Engine {
		t.Error("Engine = false, want true")
	}
	if !resp.Database {
		t.Error("Database = false, want true when no DB configured")
	}
}

func TestHandleHealth_DegradedWhenStopped(t *testing.T) {
	eng := newTestEngine(t, false)
	s := New(Config{Addr: "127.0.0.1:0"}, eng, nil, nil)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want 503", rec.Code)
	}
	var resp HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", resp.Status)
	}
}

func TestHandleStats(t *testing.T) {
	eng := newTestEngine(t, true)
	s := New(Config{Addr: "127.0.0.1:0"}, eng, nil, nil)

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var stats engine.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.QueueCap != 16 {
		t.Errorf("QueueCap = %d, want 16", stats.QueueCap)
	}
	if !stats.Running {
		t.Error("Running = false, want true")
	}
}

func TestHandlePlugins(t *testing.T) {
	eng := newTestEngine(t, false)
	if _, err := eng.LoadPlugin(context.Background(), wasmtest.WithInitAndVersion(1, 3)); err != nil {
		t.Fatalf("LoadPlugin: %v", err)
	}
	s := New(Config{Addr: "127.0.0.1:0"}, eng, nil, nil)

	rec := httptest.NewRecorder()
	s.handlePlugins(rec, httptest.NewRequest(http.MethodGet, "/plugins", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var infos []PluginInfo
	if err := json.NewDecoder(rec.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("got %d plugins, want 1", len(infos))
	}
	if infos[0].Version != 3 {
		t.Errorf("Version = %d, want 3", infos[0].Version)
	}
	if len(infos[0].Hash) != 64 {
		t.Errorf("Hash length = %d, want 64", len(infos[0].Hash))
	}
}

func TestRouting_AuthGatesStats(t *testing.T) {
	eng := newTestEngine(t, true)
	s := New(Config{Addr: "127.0.0.1:0", APIKeys: []string{"secret"}}, eng, nil, nil)
	handler := s.httpServer.Handler

	if rec := getPath(t, handler, "/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("/stats without key: status %d, want 401", rec.Code)
	}
	if rec := getPath(t, handler, "/stats", "secret"); rec.Code != http.StatusOK {
		t.Errorf("/stats with key: status %d, want 200", rec.Code)
	}
	// Health bypasses auth.
	if rec := getPath(t, handler, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("/health without key: status %d, want 200", rec.Code)
	}
}

func TestAuditEndpoints_NoDatabase(t *testing.T) {
	eng := newTestEngine(t, true)
	s := New(Config{Addr: "127.0.0.1:0"}, eng, nil, nil)
	handler := s.httpServer.Handler

	for _, path := range []string{"/audit/loads", "/audit/loads/some-id", "/audit/events"} {
		rec := getPath(t, handler, path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status %d, want 503", path, rec.Code)
		}
		var resp ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("%s: decode error body: %v", path, err)
		}
		if resp.Code != "DB_UNAVAILABLE" {
			t.Errorf("%s: error code %q, want DB_UNAVAILABLE", path, resp.Code)
		}
	}
}

func TestRouting_Metrics(t *testing.T) {
	eng := newTestEngine(t, true)
	s := New(Config{Addr: "127.0.0.1:0"}, eng, nil, monitor.NewMetrics())
	handler := s.httpServer.Handler

	rec := getPath(t, handler, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "sluice_") {
		t.Error("metrics body missing sluice_ families")
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	eng := newTestEngine(t, true)
	s := New(Config{Addr: "127.0.0.1:0"}, eng, nil, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("Addr() empty after Start")
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
