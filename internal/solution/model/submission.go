package model

import (
	"time"

	"judgeflow/internal/common/event"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusSuccess            Status = "SUCCESS"
	StatusFailed             Status = "FAILED"
	StatusServiceUnavailable Status = "SERVICE_UNAVAILABLE"
	StatusTimeout            Status = "TIMEOUT"
)

// StatusFromVerdict maps a terminal verdict onto a submission status.
func StatusFromVerdict(v event.Verdict) Status {
	switch v {
	case event.VerdictSuccess:
		return StatusSuccess
	case event.VerdictFailed:
		return StatusFailed
	case event.VerdictServiceUnavailable:
		return StatusServiceUnavailable
	case event.VerdictTimeout:
		return StatusTimeout
	default:
		return StatusFailed
	}
}

// IsTerminal reports whether no further transition is accepted.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Submission is one attempt of a user at a task.
type Submission struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	TaskID          string         `json:"taskId"`
	Code            string         `json:"code"`
	Language        event.Language `json:"language"`
	Status          Status         `json:"status"`
	TestsPassed     int            `json:"testsPassed"`
	TestsTotal      int            `json:"testsTotal"`
	Feedback        string         `json:"feedback,omitempty"`
	ProgressApplied bool           `json:"progressApplied"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Transition is a terminal update applied to a pending submission.
type Transition struct {
	Status      Status
	Feedback    string
	TestsPassed int
	TestsTotal  int
}

// ActivityDay is the number of submissions made on one calendar day.
type ActivityDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}
