package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"judgeflow/internal/common/event"
	pkgerrors "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/retry"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:   url,
		AuthToken: "secret",
		Retry:     retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	}, nil)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return c
}

func judgeServer(t *testing.T, hits *int32, handler func(req submissionRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		var req submissionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		code, body := handler(req)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecuteAcceptedRequestShape(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/submissions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("base64_encoded") != "true" || r.URL.Query().Get("wait") != "true" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-Auth-Token") != "secret" {
			t.Errorf("expected auth header")
		}
		var req submissionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		if req.LanguageID != 71 {
			t.Errorf("expected language 71, got %d", req.LanguageID)
		}
		if req.SourceCode != b64("print(sum(map(int, input().split())))") {
			t.Errorf("unexpected source %s", req.SourceCode)
		}
		if req.Stdin != b64("1 2\n") || req.ExpectedOutput != b64("3\n") {
			t.Errorf("expected normalized stdin and output, got %q %q", req.Stdin, req.ExpectedOutput)
		}
		_, _ = w.Write([]byte(`{"stdout":"` + b64("3\n") + `","time":"0.012","memory":3840,"status":{"id":3,"description":"Accepted"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	exec, err := c.Execute(context.Background(), "print(sum(map(int, input().split())))", event.LanguagePython, event.TestCase{Input: "1 2\n\n", Output: "3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exec.Passed() || exec.Stdout != "3\n" {
		t.Fatalf("expected accepted, got %+v", exec)
	}
	if exec.TimeMs != 12 || exec.MemoryKb != 3840 {
		t.Fatalf("unexpected usage %d ms %d kb", exec.TimeMs, exec.MemoryKb)
	}
}

func TestExecuteClassifiesLocally(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		response string
		expected string
		want     Verdict
		desc     string
	}{
		{
			name:     "remote wrong answer but trailing whitespace only",
			response: `{"stdout":"` + b64("3  \n\n") + `","status":{"id":4,"description":"Wrong Answer"}}`,
			expected: "3",
			want:     VerdictAccepted,
			desc:     "Accepted",
		},
		{
			name:     "remote accepted but different output",
			response: `{"stdout":"` + b64("4\n") + `","status":{"id":3,"description":"Accepted"}}`,
			expected: "3",
			want:     VerdictWrongAnswer,
			desc:     "Wrong Answer",
		},
		{
			name:     "plain text stdout",
			response: `{"stdout":"3","status":{"id":3,"description":"Accepted"}}`,
			expected: "3",
			want:     VerdictAccepted,
			desc:     "Accepted",
		},
		{
			name:     "compile error passes through",
			response: `{"compile_output":"` + b64("SyntaxError") + `","status":{"id":6,"description":"Compilation Error"}}`,
			expected: "3",
			want:     VerdictJudgeStatus,
			desc:     "Compilation Error",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var hits int32
			srv := judgeServer(t, &hits, func(req submissionRequest) (int, string) {
				return http.StatusCreated, tt.response
			})
			exec, err := newTestClient(t, srv.URL).Execute(context.Background(), "code", event.LanguageJS, event.TestCase{Output: tt.expected})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if exec.Verdict != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, exec.Verdict)
			}
			if exec.Description() != tt.desc {
				t.Fatalf("expected description %q, got %q", tt.desc, exec.Description())
			}
		})
	}
}

func TestExecuteUnavailableAfterRetries(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := judgeServer(t, &hits, func(req submissionRequest) (int, string) {
		return http.StatusServiceUnavailable, "overloaded"
	})
	_, err := newTestClient(t, srv.URL).Execute(context.Background(), "code", event.LanguagePython, event.TestCase{})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if pkgerrors.GetCode(err) != pkgerrors.JudgeUnavailable {
		t.Fatalf("expected JudgeUnavailable code, got %d", pkgerrors.GetCode(err))
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestExecuteConnectionRefusedIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Execute(context.Background(), "code", event.LanguagePython, event.TestCase{})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestExecuteClientErrorsStopImmediately(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
		code   pkgerrors.ErrorCode
	}{
		{name: "bad request", status: http.StatusUnprocessableEntity, body: `{"error":"bad"}`, code: pkgerrors.JudgeSystemError},
		{name: "malformed body", status: http.StatusOK, body: `{"stdout":`, code: pkgerrors.JudgeBadResponse},
		{name: "missing status", status: http.StatusOK, body: `{"stdout":"x"}`, code: pkgerrors.JudgeBadResponse},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var hits int32
			srv := judgeServer(t, &hits, func(req submissionRequest) (int, string) {
				return tt.status, tt.body
			})
			_, err := newTestClient(t, srv.URL).Execute(context.Background(), "code", event.LanguagePython, event.TestCase{})
			if errors.Is(err, ErrServiceUnavailable) {
				t.Fatalf("client errors must not be reported as unavailable")
			}
			if pkgerrors.GetCode(err) != tt.code {
				t.Fatalf("expected code %d, got %d (%v)", tt.code, pkgerrors.GetCode(err), err)
			}
			if n := atomic.LoadInt32(&hits); n != 1 {
				t.Fatalf("expected a single attempt, got %d", n)
			}
		})
	}
}

func TestExecuteRejectsEmptyCode(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := judgeServer(t, &hits, func(req submissionRequest) (int, string) {
		return http.StatusOK, "{}"
	})
	_, err := newTestClient(t, srv.URL).Execute(context.Background(), "  \n", event.LanguagePython, event.TestCase{})
	if !pkgerrors.Is(err, pkgerrors.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected no judge call")
	}
}

func TestDecodeFieldFallsBackToRaw(t *testing.T) {
	t.Parallel()
	raw := "hello world!"
	if got := decodeField(&raw); got != raw {
		t.Fatalf("expected raw fallback, got %q", got)
	}
	wrapped := b64("line one\nline two\n")[:8] + "\n" + b64("line one\nline two\n")[8:]
	if got := decodeField(&wrapped); got != "line one\nline two\n" {
		t.Fatalf("expected wrapped base64 to decode, got %q", got)
	}
	if decodeField(nil) != "" {
		t.Fatalf("expected empty string for nil field")
	}
}
