package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	configpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/config"
)

func newIntrospectionService(t *testing.T, cfg *configpkg.Config) *Service {
	t.Helper()
	if cfg.Transport == "" {
		cfg.Transport = "channel"
	}
	svc := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{})

	if err := RegisterProcedure(svc.Router(), ProcedureRegistration{Name: "users.get", Handler: noopProcedure}); err != nil {
		t.Fatalf("RegisterProcedure: %v", err)
	}
	if err := RegisterEvent(svc.Router(), EventRegistration{
		Name:     "orders.created",
		Handler:  noopEvent,
		Delivery: DeliveryOptions{Policy: DeliveryAtMostOnce},
	}); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	return svc
}

func TestHandleGetHandlers(t *testing.T) {
	svc := newIntrospectionService(t, &configpkg.Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/handlers", nil)
	rec := httptest.NewRecorder()
	svc.handleGetHandlers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var infos []struct {
		Name     string `json:"name"`
		Kind     string `json:"kind"`
		Delivery string `json:"delivery_policy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("handlers = %d, want 2", len(infos))
	}
	for _, info := range infos {
		switch info.Name {
		case "users.get":
			if info.Kind != "procedure" {
				t.Fatalf("users.get kind = %s", info.Kind)
			}
		case "orders.created":
			if info.Delivery != "at-most-once" {
				t.Fatalf("orders.created delivery = %s", info.Delivery)
			}
		default:
			t.Fatalf("unexpected handler %q", info.Name)
		}
	}
}

func TestHandleGetHandlersCORS(t *testing.T) {
	t.Run("allowed origin echoed", func(t *testing.T) {
		svc := newIntrospectionService(t, &configpkg.Config{
			CORSAllowedOrigins: []string{"https://ops.example.com"},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/handlers", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		rec := httptest.NewRecorder()
		svc.handleGetHandlers(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
			t.Fatalf("Allow-Origin = %q", got)
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		svc := newIntrospectionService(t, &configpkg.Config{
			CORSAllowedOrigins: []string{"*"},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/handlers", nil)
		req.Header.Set("Origin", "https://anywhere.example.com")
		rec := httptest.NewRecorder()
		svc.handleGetHandlers(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("Allow-Origin = %q", got)
		}
	})

	t.Run("disallowed origin gets no header", func(t *testing.T) {
		svc := newIntrospectionService(t, &configpkg.Config{
			CORSAllowedOrigins: []string{"https://ops.example.com"},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/handlers", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		svc.handleGetHandlers(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		svc := newIntrospectionService(t, &configpkg.Config{
			CORSAllowedOrigins: []string{"*"},
		})

		req := httptest.NewRequest(http.MethodOptions, "/api/handlers", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		rec := httptest.NewRecorder()
		svc.handleGetHandlers(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("preflight status = %d", rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Fatal("preflight must carry no body")
		}
	})
}

func TestRegisterHTTPHandler(t *testing.T) {
	svc := newIntrospectionService(t, &configpkg.Config{})

	svc.RegisterHTTPHandler(9191, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	svc.RegisterHTTPHandler(9191, "/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	mux := svc.httpServers[9191]
	if mux == nil {
		t.Fatal("mux for port 9191 missing")
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestStartIntrospectionServerDisabled(t *testing.T) {
	svc := newIntrospectionService(t, &configpkg.Config{})

	svc.startIntrospectionServer()
	svc.startMetricsServer()
	if len(svc.httpServers) != 0 {
		t.Fatal("disabled servers must register no handlers")
	}
}

func TestStartIntrospectionServerDefaultPort(t *testing.T) {
	svc := newIntrospectionService(t, &configpkg.Config{IntrospectionEnabled: true})

	svc.startIntrospectionServer()
	if svc.httpServers[defaultIntrospectionPort] == nil {
		t.Fatalf("introspection mux missing on default port %d", defaultIntrospectionPort)
	}
}
