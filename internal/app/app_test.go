package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if cfg.DatabaseURL != testDatabaseURL {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, testDatabaseURL)
	}

	// Verify that slog global logger is configured for JSON output
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)
	t.Setenv("LOG_LEVEL", "error")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Default().Warn("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("warn log should be filtered at error level, got %s", buf.String())
	}
}

func TestInit_UnknownLogLevelFallsBackToInfo(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)
	t.Setenv("LOG_LEVEL", "chatty")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	buf.Reset()

	slog.Default().Debug("debug dropped")
	slog.Default().Info("info kept")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single JSON log line, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "info kept" {
		t.Errorf("msg = %q, want %q", entry["msg"], "info kept")
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	restoreDefaultLogger(t)

	// Clear all required env vars
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("ADMIN_EMAIL", "")
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "パスワードを伏せる",
			in:   "postgres://app:hunter2@db:5432/langualegacy?sslmode=disable",
			want: "postgres://app:xxxxx@db:5432/langualegacy?sslmode=disable",
		},
		{
			name: "パスワードなし",
			in:   "postgres://db:5432/langualegacy",
			want: "postgres://db:5432/langualegacy",
		},
		{
			name: "URLでない値",
			in:   "host=db user=app password=hunter2",
			want: "***",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskDatabaseURL(tt.in); got != tt.want {
				t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// restoreDefaultLogger はテスト終了時にグローバルロガーを元に戻す。
func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}
