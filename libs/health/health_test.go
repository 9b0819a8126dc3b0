package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", LivenessHandler)
	r.GET("/readyz", ReadinessHandler(m))
	return r
}

func get(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestReadinessReflectsChecks(t *testing.T) {
	m := NewManager()
	r := newRouter(m)

	if rec := get(t, r, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("no checks: status = %d, want 200", rec.Code)
	}

	storeUp := true
	m.AddCheck("store", func(ctx context.Context) error {
		if !storeUp {
			return errors.New("connection refused")
		}
		return nil
	})

	if rec := get(t, r, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("healthy check: status = %d, want 200", rec.Code)
	}

	storeUp = false
	rec := get(t, r, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing check: status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "store") {
		t.Fatalf("failing dependency not named: %s", rec.Body.String())
	}
}

func TestReadinessDuringDrain(t *testing.T) {
	m := NewManager()
	r := newRouter(m)

	m.SetDraining(true)
	if rec := get(t, r, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining: status = %d, want 503", rec.Code)
	}

	if rec := get(t, r, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("liveness during drain: status = %d, want 200", rec.Code)
	}
}
