package logger

import (
	"context"
	"testing"

	"judgeflow/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetGlobal(NewWithZap(zap.New(core)))
	defer SetGlobal(nil)

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.SubmissionID, "sub-1")
	Info(ctx, "hello", zap.Int("n", 1))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "trace-1" {
		t.Fatalf("expected trace_id, got %v", fields["trace_id"])
	}
	if fields["submission_id"] != "sub-1" {
		t.Fatalf("expected submission_id, got %v", fields["submission_id"])
	}
	if _, ok := fields["user_id"]; ok {
		t.Fatalf("unexpected user_id field")
	}
}

func TestNilGlobalIsSilent(t *testing.T) {
	SetGlobal(nil)
	Info(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("expected nil sync error, got %v", err)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}
