package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceContextMiddleware(), AccessLog())
	r.GET("/ping", handlers...)
	return r
}

func TestTraceContextGeneratesIDs(t *testing.T) {
	var traceID interface{}
	r := newRouter(func(c *gin.Context) {
		traceID = c.Request.Context().Value(contextkey.TraceID)
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	got := w.Header().Get(traceIDHeader)
	if got == "" || traceID != got {
		t.Fatalf("expected generated trace id in header and context, got %q / %v", got, traceID)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestTraceContextKeepsIncomingIDs(t *testing.T) {
	var userID string
	r := newRouter(func(c *gin.Context) {
		userID = UserID(c)
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(traceIDHeader, "trace-1")
	req.Header.Set(userIDHeader, " u-1 ")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get(traceIDHeader) != "trace-1" {
		t.Fatalf("expected trace id to be propagated, got %q", w.Header().Get(traceIDHeader))
	}
	if userID != "u-1" {
		t.Fatalf("expected user id u-1, got %q", userID)
	}
}

func TestRequireUser(t *testing.T) {
	called := false
	r := newRouter(RequireUser(), func(c *gin.Context) {
		called = true
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusUnauthorized || called {
		t.Fatalf("expected 401 without identity, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(userIDHeader, "u-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !called {
		t.Fatalf("expected handler to run, got %d", w.Code)
	}
}

type countingLimiter struct {
	hits map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string, max int) error {
	if l.hits == nil {
		l.hits = make(map[string]int)
	}
	l.hits[key]++
	if l.hits[key] > max {
		return pkgerrors.New(pkgerrors.TooManyRequests)
	}
	return nil
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := &countingLimiter{}
	r := newRouter(RateLimitMiddleware(limiter, "submit", RateLimitPolicy{UserMax: 2}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(userIDHeader, "u-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if limiter.hits["solution:rate:user:u-1:submit"] != 3 {
		t.Fatalf("unexpected keys %v", limiter.hits)
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware(CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "POST"},
	}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", w.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", w.Code)
	}
}
