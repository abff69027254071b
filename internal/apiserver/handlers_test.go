package apiserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/flowmesh/engine/engine"
	"github.com/flowmesh/engine/internal/registry"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.NewDefault()
	if err != nil {
		t.Fatalf("NewDefault failed: %v", err)
	}
	return eng
}

func TestHealthReturnsOK(t *testing.T) {
	e := echo.New()
	RegisterRoutes(e, newTestEngine(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("expected body to report healthy status, got %s", rec.Body.String())
	}
}

func TestStatsReturnsRegisteredToolCount(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.RegisterTool(registry.Tool{
		ID:           "echo",
		Name:         "echo",
		InputSchema:  []byte(`{"type":"object"}`),
		OutputSchema: []byte(`{"type":"object"}`),
		Execute: func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			return input, nil
		},
	}); err != nil {
		t.Fatalf("RegisterTool failed: %v", err)
	}

	e := echo.New()
	RegisterRoutes(e, eng)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"registeredTools":1`) {
		t.Errorf("expected stats body to report 1 registered tool, got %s", rec.Body.String())
	}
}

func TestListToolsReturnsRegisteredTools(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.RegisterTool(registry.Tool{
		ID:           "echo",
		Name:         "echo",
		InputSchema:  []byte(`{"type":"object"}`),
		OutputSchema: []byte(`{"type":"object"}`),
		Execute: func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			return input, nil
		},
	}); err != nil {
		t.Fatalf("RegisterTool failed: %v", err)
	}

	e := echo.New()
	RegisterRoutes(e, eng)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("expected one tool listed, got %s", rec.Body.String())
	}
}

func TestCancelSuspensionRequiresKey(t *testing.T) {
	e := echo.New()
	RegisterRoutes(e, newTestEngine(t))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/suspensions/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected a missing :key param to 404 on routing, got %d", rec.Code)
	}
}

func TestCancelSuspensionUnknownKeyIsIdempotent(t *testing.T) {
	e := echo.New()
	RegisterRoutes(e, newTestEngine(t))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/suspensions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected cancelling an unknown key on the memory backend to be a no-op 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListSuspendedDefaultsLimit(t *testing.T) {
	e := echo.New()
	RegisterRoutes(e, newTestEngine(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/suspensions", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Errorf("expected an empty suspensions list, got %s", rec.Body.String())
	}
}
