package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func serve(checks map[string]CheckFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", Handler(checks))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	return w
}

func TestHealthyDependencies(t *testing.T) {
	ok := func(context.Context) error { return nil }
	w := serve(map[string]CheckFunc{"mysql": ok, "redis": ok})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestFailingDependency(t *testing.T) {
	w := serve(map[string]CheckFunc{
		"mysql": func(context.Context) error { return nil },
		"kafka": func(context.Context) error { return errors.New("no brokers") },
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Checks["kafka"] != "no brokers" || body.Checks["mysql"] != "ok" {
		t.Fatalf("unexpected checks %v", body.Checks)
	}
}
