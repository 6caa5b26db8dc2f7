// Package gateway calls the remote code judge and classifies its answer.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"judgeflow/internal/common/event"
	"judgeflow/internal/common/metrics"
	pkgerrors "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"
	"judgeflow/pkg/utils/retry"

	"go.uber.org/zap"
)

// Remote judge status ids that are re-classified locally.
const (
	statusInQueue     = 1
	statusProcessing  = 2
	statusAccepted    = 3
	statusWrongAnswer = 4
)

// ErrServiceUnavailable is returned once the judge kept failing transiently.
var ErrServiceUnavailable = pkgerrors.New(pkgerrors.JudgeUnavailable)

// Verdict is the local classification of one judged test case.
type Verdict string

const (
	VerdictAccepted    Verdict = "ACCEPTED"
	VerdictWrongAnswer Verdict = "WRONG_ANSWER"
	// VerdictJudgeStatus passes any other terminal judge status through; see Execution.Status.
	VerdictJudgeStatus Verdict = "JUDGE_STATUS"
)

// Status is the raw status reported by the judge.
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Execution is the normalized judge answer for one test case.
type Execution struct {
	Stdout        string
	Stderr        string
	CompileOutput string
	Message       string
	TimeMs        int64
	MemoryKb      int64
	Status        Status
	Verdict       Verdict
}

// Passed reports whether the test case was accepted.
func (e *Execution) Passed() bool {
	return e.Verdict == VerdictAccepted
}

// Description is the human readable outcome.
func (e *Execution) Description() string {
	switch e.Verdict {
	case VerdictAccepted:
		return "Accepted"
	case VerdictWrongAnswer:
		return "Wrong Answer"
	case VerdictJudgeStatus:
		if e.Status.Description != "" {
			return e.Status.Description
		}
		return fmt.Sprintf("Judge status %d", e.Status.ID)
	default:
		return string(e.Verdict)
	}
}

// Config configures the judge client.
type Config struct {
	BaseURL    string        `yaml:"baseURL"`
	AuthHeader string        `yaml:"authHeader"`
	AuthToken  string        `yaml:"authToken"`
	Timeout    time.Duration `yaml:"timeout"`
	Retry      retry.Policy  `yaml:"retry"`
}

const defaultTimeout = 30 * time.Second

// CallBudget is the longest one Execute call can take against a judge that
// never answers: every attempt hits Timeout and every backoff is waited out.
func (c Config) CallBudget() time.Duration {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return c.Retry.Budget(timeout)
}

// Client is the judge gateway.
type Client struct {
	baseURL    string
	authHeader string
	authToken  string
	http       *http.Client
	retry      retry.Policy
}

// NewClient creates a judge client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("judge base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "X-Auth-Token"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    base,
		authHeader: cfg.AuthHeader,
		authToken:  cfg.AuthToken,
		http:       httpClient,
		retry:      cfg.Retry.WithDefaults(),
	}, nil
}

type submissionRequest struct {
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

type submissionResponse struct {
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Time          *string `json:"time"`
	Memory        *int64  `json:"memory"`
	Status        *Status `json:"status"`
}

// Execute runs code against one test case and classifies the outcome.
func (c *Client) Execute(ctx context.Context, code string, language event.Language, tc event.TestCase) (*Execution, error) {
	if strings.TrimSpace(code) == "" {
		return nil, pkgerrors.ValidationError("code", "must not be empty")
	}
	languageID := language.JudgeID()
	if languageID == 0 {
		return nil, pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not supported", language)
	}
	input := normalizeNewline(tc.Input)
	expected := normalizeNewline(tc.Output)

	payload, err := json.Marshal(submissionRequest{
		SourceCode:     base64.StdEncoding.EncodeToString([]byte(code)),
		LanguageID:     languageID,
		Stdin:          base64.StdEncoding.EncodeToString([]byte(input)),
		ExpectedOutput: base64.StdEncoding.EncodeToString([]byte(expected)),
	})
	if err != nil {
		return nil, fmt.Errorf("encode judge request failed: %w", err)
	}

	start := time.Now()
	var resp *submissionResponse
	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		r, err := c.submit(ctx, payload)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, func(attempt int, err error, next time.Duration) {
		metrics.JudgeCalls.WithLabelValues("retry").Inc()
		logger.Warn(ctx, "judge call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
	metrics.JudgeLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if retry.IsExhausted(err) {
			metrics.JudgeCalls.WithLabelValues("unavailable").Inc()
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		metrics.JudgeCalls.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.JudgeCalls.WithLabelValues("ok").Inc()
	return classify(resp, expected), nil
}

func (c *Client) submit(ctx context.Context, payload []byte) (*submissionResponse, error) {
	target := c.baseURL + "/submissions?base64_encoded=true&wait=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build judge request failed: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set(c.authHeader, c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTransient(err) {
			return nil, err
		}
		return nil, retry.Permanent(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("judge returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, retry.Permanent(pkgerrors.Newf(pkgerrors.JudgeSystemError, "judge rejected request with status %d: %s", resp.StatusCode, truncate(string(body), 256)))
	}

	var out submissionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, retry.Permanent(pkgerrors.Wrapf(err, pkgerrors.JudgeBadResponse, "decode judge response failed"))
	}
	if out.Status == nil {
		return nil, retry.Permanent(pkgerrors.Newf(pkgerrors.JudgeBadResponse, "judge response has no status"))
	}
	if out.Status.ID == statusInQueue || out.Status.ID == statusProcessing {
		return nil, fmt.Errorf("judge returned non-terminal status %d", out.Status.ID)
	}
	return &out, nil
}

func classify(resp *submissionResponse, expected string) *Execution {
	exec := &Execution{
		Stdout:        decodeField(resp.Stdout),
		Stderr:        decodeField(resp.Stderr),
		CompileOutput: decodeField(resp.CompileOutput),
		Message:       decodeField(resp.Message),
		TimeMs:        parseSeconds(resp.Time),
		Status:        *resp.Status,
	}
	if resp.Memory != nil {
		exec.MemoryKb = *resp.Memory
	}
	switch exec.Status.ID {
	case statusAccepted, statusWrongAnswer:
		if trimTrailing(exec.Stdout) == trimTrailing(expected) {
			exec.Verdict = VerdictAccepted
		} else {
			exec.Verdict = VerdictWrongAnswer
		}
	default:
		exec.Verdict = VerdictJudgeStatus
	}
	return exec
}

func normalizeNewline(s string) string {
	return strings.TrimRight(s, "\r\n") + "\n"
}

func trimTrailing(s string) string {
	return strings.TrimRight(s, " \t\r\n\v\f")
}

// decodeField decodes a base64 field, tolerating judges that answer in plain text.
func decodeField(v *string) string {
	if v == nil {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '+', r == '/', r == '=':
			return r
		default:
			return -1
		}
	}, *v)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return *v
	}
	return string(decoded)
}

func parseSeconds(v *string) int64 {
	if v == nil || *v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(*v, 64)
	if err != nil {
		return 0
	}
	return int64(secs*1000 + 0.5)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
