package core

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_ReplacesGlobals(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	logger, err := NewLogger(LogOptions{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil")
	}
	if !L().Desugar().Core().Enabled(zapcore.DebugLevel) {
		t.Error("global logger should have debug enabled")
	}

	// Methods of the Logger interface must not panic.
	var l Logger = Named("test")
	l.Debug("debug")
	l.Infof("info: %s", "message")
	l.Warn("warn")
	l.Errorf("error: %d", 1)
}

func TestNewLogger_BadOptions(t *testing.T) {
	if _, err := NewLogger(LogOptions{Level: "nope"}); err == nil {
		t.Error("NewLogger() with bad level should fail")
	}
	if _, err := NewLogger(LogOptions{Format: "xml"}); err == nil {
		t.Error("NewLogger() with bad format should fail")
	}
}
