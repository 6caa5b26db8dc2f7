// Package event defines the payloads exchanged between the solution service
// and the sandbox service over the message bus.
package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	TopicExecutionRequest = "solution.exec.request"
	TopicExecutionResult  = "solution.exec.result"

	// HeaderEventType carries the Kind of a bus message.
	HeaderEventType = "x-event-type"
)

// Kind names the payload carried by a bus message.
type Kind string

const (
	KindExecutionRequest Kind = "execution.request"
	KindExecutionResult  Kind = "execution.result"
)

// Verdict is the terminal classification of an execution.
type Verdict string

const (
	VerdictSuccess            Verdict = "SUCCESS"
	VerdictFailed             Verdict = "FAILED"
	VerdictServiceUnavailable Verdict = "SERVICE_UNAVAILABLE"
	VerdictTimeout            Verdict = "TIMEOUT"
)

// ParseVerdict validates a verdict received from the bus.
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case VerdictSuccess, VerdictFailed, VerdictServiceUnavailable, VerdictTimeout:
		return v, nil
	default:
		return "", fmt.Errorf("unknown verdict %q", s)
	}
}

// AffectsConfidence reports whether the verdict reflects the author's skill.
// Infrastructure outcomes never move confidence; timeouts are a caller policy.
func (v Verdict) AffectsConfidence() bool {
	switch v {
	case VerdictSuccess, VerdictFailed:
		return true
	case VerdictServiceUnavailable, VerdictTimeout:
		return false
	default:
		return false
	}
}

// Language is a supported source language.
type Language string

const (
	LanguagePython Language = "PYTHON"
	LanguageJS     Language = "JS"
)

// ParseLanguage accepts the canonical names and a few common aliases.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PYTHON", "PY", "PYTHON3":
		return LanguagePython, nil
	case "JS", "JAVASCRIPT", "NODE":
		return LanguageJS, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

// JudgeID returns the language id understood by the remote judge.
func (l Language) JudgeID() int {
	switch l {
	case LanguagePython:
		return 71
	case LanguageJS:
		return 63
	default:
		return 0
	}
}

// TestCase is one input/expected-output pair.
type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// ExecutionRequest asks the sandbox to judge one submission.
type ExecutionRequest struct {
	SubmissionID string     `json:"submissionId"`
	TaskID       string     `json:"taskId"`
	Language     Language   `json:"language"`
	Code         string     `json:"code"`
	Tests        []TestCase `json:"tests"`
}

// Validate checks the fields without which no result can be addressed.
// Other defects are reported back as a FAILED verdict by the worker.
func (r *ExecutionRequest) Validate() error {
	if strings.TrimSpace(r.SubmissionID) == "" {
		return fmt.Errorf("submission id is empty")
	}
	return nil
}

// ExecutionResult reports the verdict of one execution.
type ExecutionResult struct {
	EventID      string  `json:"eventId"`
	SubmissionID string  `json:"submissionId"`
	Status       Verdict `json:"status"`
	Description  string  `json:"description,omitempty"`
	TestsPassed  int     `json:"testsPassed"`
	TestsTotal   int     `json:"testsTotal"`
}

// Validate checks the result before it is applied.
func (r *ExecutionResult) Validate() error {
	if _, err := uuid.Parse(r.SubmissionID); err != nil {
		return fmt.Errorf("invalid submission id %q", r.SubmissionID)
	}
	v, err := ParseVerdict(string(r.Status))
	if err != nil {
		return err
	}
	if v == VerdictTimeout {
		return fmt.Errorf("verdict %s is reserved for the reaper", v)
	}
	r.Status = v
	return nil
}

// DecodeExecutionRequest decodes and validates a request payload.
func DecodeExecutionRequest(body []byte) (*ExecutionRequest, error) {
	var req ExecutionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode execution request failed: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeExecutionResult decodes and validates a result payload.
func DecodeExecutionResult(body []byte) (*ExecutionResult, error) {
	var res ExecutionResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode execution result failed: %w", err)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &res, nil
}
