package logging

import (
	"log/slog"
	"testing"

	"github.com/odyotek/custody-core/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew_DoesNotPanic(t *testing.T) {
	formats := []string{"json", "text", ""}
	outputs := []string{"stdout", "stderr", ""}

	for _, f := range formats {
		for _, o := range outputs {
			log := New(config.LoggingConfig{Level: "debug", Format: f, Output: o}, "test")
			if log == nil {
				t.Fatalf("New(format=%q, output=%q) = nil", f, o)
			}
			log.Debug("smoke", "format", f, "output", o)
		}
	}
}

func TestWith_ReturnsIndependentLogger(t *testing.T) {
	base := Default()
	child := base.With("component", "custody")

	if child == base {
		t.Error("With() returned the same logger")
	}
	child.Info("child logger works")
}
