package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"ratebook/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Data.DataDir = t.TempDir()
	srv, err := NewServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func TestServer_Routes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/api/status", http.StatusOK},
		{http.MethodGet, "/api/batches", http.StatusOK},
		{http.MethodOptions, "/api/ratebooks/import", http.StatusNoContent},
		{http.MethodGet, "/api/batches/missing", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s %s got=%d want=%d body=%s", tc.method, tc.path, rec.Code, tc.want, rec.Body.String())
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("%s %s missing CORS header", tc.method, tc.path)
		}
	}
	if srv.GetStore().Driver() != "sqlite" {
		t.Fatalf("driver got=%s want=sqlite", srv.GetStore().Driver())
	}
}

func TestNewServer_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Data.Driver = "postgres"
	if _, err := NewServer(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for postgres without url")
	}
}

func TestLoadVocabulary_MissingFile(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Parser.VocabularyPath = "/nonexistent/vocab.yaml"
	if _, err := LoadVocabulary(cfg); err == nil {
		t.Fatalf("expected error for missing vocabulary")
	}
}
