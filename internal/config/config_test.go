// ABOUTME: Tests for configuration loading
// ABOUTME: Covers env expansion, duration parsing, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/concierge.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Defaults
	if cfg.Batching.DebounceCeil != 30*time.Second {
		t.Errorf("DebounceCeil default mismatch: got %v", cfg.Batching.DebounceCeil)
	}
	if cfg.Batching.GreetingDelay != 2*time.Second {
		t.Errorf("GreetingDelay default mismatch: got %v", cfg.Batching.GreetingDelay)
	}
	if cfg.Pipeline.LongGap != 180*24*time.Hour {
		t.Errorf("LongGap default mismatch: got %v", cfg.Pipeline.LongGap)
	}
	if cfg.Pipeline.ShortGap != 12*time.Hour {
		t.Errorf("ShortGap default mismatch: got %v", cfg.Pipeline.ShortGap)
	}
	if cfg.Generator.MaxAttempts != 3 {
		t.Errorf("MaxAttempts default mismatch: got %d", cfg.Generator.MaxAttempts)
	}
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/concierge.db"
batching:
  debounce_window: "4s"
  debounce_ceiling: "20s"
  greeting_delay: "1s"
pipeline:
  long_gap: "2160h"
  short_gap: "6h"
generator:
  request_timeout: "45s"
  retry_delay: "3s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Batching.DebounceWindow != 4*time.Second {
		t.Errorf("DebounceWindow mismatch: got %v", cfg.Batching.DebounceWindow)
	}
	if cfg.Batching.DebounceCeil != 20*time.Second {
		t.Errorf("DebounceCeil mismatch: got %v", cfg.Batching.DebounceCeil)
	}
	if cfg.Pipeline.ShortGap != 6*time.Hour {
		t.Errorf("ShortGap mismatch: got %v", cfg.Pipeline.ShortGap)
	}
	if cfg.Generator.RequestTimeout != 45*time.Second {
		t.Errorf("RequestTimeout mismatch: got %v", cfg.Generator.RequestTimeout)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CONCIERGE_TEST_TOKEN", "secret-token-123")

	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/concierge.db"
messaging:
  token: "${CONCIERGE_TEST_TOKEN}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Messaging.Token != "secret-token-123" {
		t.Errorf("Token mismatch: got %q", cfg.Messaging.Token)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing http addr",
			content: `
database:
  path: "/tmp/concierge.db"
`,
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: ":8080"
`,
		},
		{
			name: "window exceeds ceiling",
			content: `
server:
  http_addr: ":8080"
database:
  path: "/tmp/concierge.db"
batching:
  debounce_window: "60s"
  debounce_ceiling: "30s"
`,
		},
		{
			name: "bad duration",
			content: `
server:
  http_addr: ":8080"
database:
  path: "/tmp/concierge.db"
batching:
  debounce_window: "not-a-duration"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
