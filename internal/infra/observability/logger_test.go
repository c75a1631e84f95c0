package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boddenberg/p2p-queue-engine/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newLoggedRouter() (http.Handler, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := chi.NewRouter()
	r.Use(observability.RequestLogMiddleware(zap.New(core)))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/v1/queue/items/{itemId}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
	r.Post("/v1/queue/matches/{matchId}/confirm", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) })
	r.Post("/v1/queue/items", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) })
	return r, logs
}

func TestRequestLogMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		level  zapcore.Level
		route  string
		idKey  string
		id     string
	}{
		{"created", http.MethodPost, "/v1/queue/items", zapcore.InfoLevel, "/v1/queue/items", "", ""},
		{"missing item", http.MethodGet, "/v1/queue/items/itm-42", zapcore.WarnLevel, "/v1/queue/items/{itemId}", "item_id", "itm-42"},
		{"confirm failure", http.MethodPost, "/v1/queue/matches/mt-7/confirm", zapcore.ErrorLevel, "/v1/queue/matches/{matchId}/confirm", "match_id", "mt-7"},
		{"health check", http.MethodGet, "/healthz", zapcore.DebugLevel, "/healthz", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, logs := newLoggedRouter()
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected one log line, got %d", len(entries))
			}
			e := entries[0]
			if e.Level != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, e.Level)
			}
			fields := e.ContextMap()
			if fields["route"] != tt.route {
				t.Errorf("expected route %q, got %v", tt.route, fields["route"])
			}
			if tt.idKey != "" && fields[tt.idKey] != tt.id {
				t.Errorf("expected %s=%q, got %v", tt.idKey, tt.id, fields[tt.idKey])
			}
		})
	}
}

func TestNewLogger_Levels(t *testing.T) {
	if l := observability.NewLogger("debug"); !l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug enabled")
	}
	if l := observability.NewLogger("warn"); l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info disabled at warn")
	}
	if l := observability.NewLogger("loud"); !l.Core().Enabled(zapcore.InfoLevel) || l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected unparsable level to fall back to info")
	}
}
