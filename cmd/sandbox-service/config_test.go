package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, worker string) string {
	t.Helper()
	body := `
redis:
  addr: 127.0.0.1:6379
kafka:
  brokers: [127.0.0.1:9092]
judge:
  baseURL: http://127.0.0.1:2358
  timeout: 30s
  retry:
    maxAttempts: 3
    initialInterval: 1s
    multiplier: 2
    maxInterval: 10s
` + worker
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadAppConfigExecTimeoutBudget(t *testing.T) {
	cases := []struct {
		name    string
		worker  string
		want    time.Duration
		wantErr bool
	}{
		{name: "default covers retries", worker: "", want: 98 * time.Second},
		{name: "explicit above budget", worker: "worker:\n  execTimeout: 2m\n", want: 2 * time.Minute},
		{name: "below budget", worker: "worker:\n  execTimeout: 90s\n", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := loadAppConfig(writeConfig(t, tc.worker))
			if tc.wantErr {
				if err == nil || !strings.Contains(err.Error(), "retry budget") {
					t.Fatalf("expected budget error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Worker.ExecTimeout != tc.want {
				t.Fatalf("expected exec timeout %s, got %s", tc.want, cfg.Worker.ExecTimeout)
			}
		})
	}
}

func TestShippedConfigLoads(t *testing.T) {
	if _, err := loadAppConfig(filepath.Join("..", "..", "configs", "sandbox_service.yaml")); err != nil {
		t.Fatalf("shipped config rejected: %v", err)
	}
}
