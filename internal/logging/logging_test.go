package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	l := New("warn", true)
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !l.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("error should be enabled at warn level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := New("info", false)
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}

func TestNewWithSink_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithSink("debug", true, zapcore.AddSync(&buf))
	l.Info("connected", zap.String("room", "direct/5"))
	_ = l.Sync()

	out := buf.String()
	if !strings.Contains(out, `"msg":"connected"`) || !strings.Contains(out, `"room":"direct/5"`) {
		t.Errorf("output = %s", out)
	}
}
