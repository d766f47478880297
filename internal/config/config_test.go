package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "storage:\n  path: "+filepath.Join(dir, "timeleak.bolt")+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.APIPort != 8439 {
		t.Errorf("expected default API port 8439, got %d", cfg.Server.APIPort)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("expected default storage type bolt, got %q", cfg.Storage.Type)
	}
	if cfg.Sync.TargetTime != "23:59" {
		t.Errorf("expected default target time 23:59, got %q", cfg.Sync.TargetTime)
	}
	if cfg.Goal.BaselineRatio != 0.9 {
		t.Errorf("expected default baseline ratio 0.9, got %v", cfg.Goal.BaselineRatio)
	}
	if cfg.Reconcile.MaxSession != "4h" {
		t.Errorf("expected default max session 4h, got %q", cfg.Reconcile.MaxSession)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
server:
  api_port: 9000
storage:
  path: `+filepath.Join(dir, "timeleak.bolt")+`
sync:
  target_time: "22:30"
  max_retries: 3
goal:
  default: "3h"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.APIPort != 9000 {
		t.Errorf("expected API port 9000, got %d", cfg.Server.APIPort)
	}
	if cfg.Sync.TargetTime != "22:30" {
		t.Errorf("expected target time 22:30, got %q", cfg.Sync.TargetTime)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", cfg.Sync.MaxRetries)
	}
	if cfg.Goal.Default != "3h" {
		t.Errorf("expected goal default 3h, got %q", cfg.Goal.Default)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		body string
	}{
		{"bad target time", "sync:\n  target_time: \"25:99\"\n"},
		{"bad timezone", "sync:\n  timezone: Mars/Olympus\n"},
		{"bad duration", "reconcile:\n  max_session: soon\n"},
		{"bad ratio", "goal:\n  baseline_ratio: 1.5\n"},
		{"bad storage type", "storage:\n  type: etcd\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := "storage:\n  path: " + filepath.Join(dir, "timeleak.bolt") + "\n" + tc.body
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "storage:\n  path: "+filepath.Join(dir, "timeleak.bolt")+"\n")

	t.Setenv("TIMELEAK_SERVER_API_PORT", "7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIPort != 7777 {
		t.Errorf("expected env override port 7777, got %d", cfg.Server.APIPort)
	}
}
