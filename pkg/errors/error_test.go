package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "judgeflow/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{SubmissionNotFound, "Submission not found"},
		{TaskNotFound, "Task not found"},
		{JudgeUnavailable, "Execution service is temporarily unavailable"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{ValidationFailed, 400},
		{LanguageNotSupported, 400},
		{SubmissionNotFound, 404},
		{TaskNotFound, 404},
		{ServiceUnavailable, 503},
		{TaskCatalogFailure, 503},
		{DatabaseError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestWrapKeepsChain(t *testing.T) {
	root := errors.New("connection refused")
	err := Wrapf(root, DatabaseError, "load submission failed")

	if !errors.Is(err, root) {
		t.Fatalf("expected wrapped error to match root")
	}
	if GetCode(err) != DatabaseError {
		t.Fatalf("expected code %d, got %d", DatabaseError, GetCode(err))
	}

	outer := fmt.Errorf("handler: %w", err)
	if !Is(outer, DatabaseError) {
		t.Fatalf("expected Is to see through fmt wrapping")
	}
}

func TestWrapRecodesCodedError(t *testing.T) {
	inner := New(SubmissionNotFound)
	err := Wrap(inner, NotFound)

	if err.Code != NotFound {
		t.Fatalf("expected code %d, got %d", NotFound, err.Code)
	}
	if inner.Code != SubmissionNotFound {
		t.Fatalf("inner error must not be mutated")
	}
	if err.Error() != inner.Error() {
		t.Fatalf("expected message %q, got %q", inner.Error(), err.Error())
	}
}

func TestGetErrorWrapsPlainError(t *testing.T) {
	err := GetError(errors.New("boom"))
	if err.Code != InternalServerError {
		t.Fatalf("expected internal error, got %d", err.Code)
	}
	if GetError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	if GetCode(nil) != Success {
		t.Fatalf("expected success for nil error")
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("code", "required")
	if err.Code != ValidationFailed {
		t.Fatalf("expected validation code, got %d", err.Code)
	}
	if err.Details["field"] != "code" || err.Details["reason"] != "required" {
		t.Fatalf("unexpected details: %v", err.Details)
	}
	if err.Error() != "code: required" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
