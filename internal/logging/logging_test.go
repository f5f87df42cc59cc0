package logging

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"json format", &Config{Level: "debug", Format: "json", Output: "stderr"}},
		{"file output", &Config{Level: "info", Format: "text", Output: filepath.Join(t.TempDir(), "taskbot.log")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Init(tt.cfg); err != nil {
				t.Errorf("Init failed: %v", err)
			}
			if Logger() == nil {
				t.Error("Logger() returned nil after Init")
			}
		})
	}
}

func TestContextCarriesLogFields(t *testing.T) {
	ctx := ContextWithMessageID(context.Background(), "msg-1")
	ctx = ContextWithWorkspace(ctx, "ws-1")

	if v := ctx.Value(messageIDKey); v != "msg-1" {
		t.Errorf("message ID = %v, want msg-1", v)
	}
	if v := ctx.Value(workspaceKey); v != "ws-1" {
		t.Errorf("workspace = %v, want ws-1", v)
	}
	if WithContext(ctx) == nil {
		t.Error("WithContext returned nil")
	}
}
