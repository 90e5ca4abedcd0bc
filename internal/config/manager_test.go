package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
telegram:
  token: "123:abc"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  path: ./remindbot.db
scheduler:
  timezone: Europe/Kyiv
  fire_workers: 4
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Scheduler.Timezone != "Europe/Kyiv" || cfg.Scheduler.FireWorkers != 4 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"telegram":{"token":"t"},"logging":{},"storage":{},"scheduler":{},"no_such_key":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "500ms", want: 500 * time.Millisecond},
		{raw: "2h30m", want: 150 * time.Minute},
		{raw: "-1s", wantErr: true},
		{raw: "nope", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDurationField(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if got, err := ParseDurationOrDefault("f", "", 5*time.Second); err != nil || got != 5*time.Second {
		t.Fatalf("empty field: got %v, %v", got, err)
	}
	if got, err := ParseDurationOrDefault("f", "250ms", 5*time.Second); err != nil || got != 250*time.Millisecond {
		t.Fatalf("explicit field: got %v, %v", got, err)
	}
	if _, err := ParseDurationOrDefault("f", "-3s", 5*time.Second); err == nil {
		t.Fatal("negative duration must not fall back to the default")
	}
}
