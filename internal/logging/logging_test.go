package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		result := tt.level.String()
		if result != tt.expected {
			t.Errorf("Level(%d).String() = %q, expected %q", tt.level, result, tt.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo}, // Default
		{"", LevelInfo},        // Default
	}

	for _, tt := range tests {
		result := ParseLevel(tt.input)
		if result != tt.expected {
			t.Errorf("ParseLevel(%q) = %d, expected %d", tt.input, result, tt.expected)
		}
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  LevelWarn,
		Output: &buf,
		Prefix: "test",
	})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("debug message should be filtered at warn level")
	}
	if strings.Contains(output, "info message") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("warn message missing from output")
	}
	if !strings.Contains(output, "error message") {
		t.Error("error message missing from output")
	}
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  LevelDebug,
		Output: &buf,
		Prefix: "test",
	})

	logger.Info("plugins loaded", "count", 3)

	output := buf.String()
	if !strings.Contains(output, "[INFO]") {
		t.Errorf("output missing level marker: %q", output)
	}
	if !strings.Contains(output, "test:") {
		t.Errorf("output missing prefix: %q", output)
	}
	if !strings.Contains(output, "plugins loaded {count=3}") {
		t.Errorf("output missing message with fields: %q", output)
	}
}

func TestLogger_KeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf})

	logger.Warn("plugin already loaded", "plugin", "echo")

	output := buf.String()
	if !strings.Contains(output, "plugin already loaded {plugin=echo}") {
		t.Errorf("output = %q, want key=value fields", output)
	}
	if strings.Contains(output, "%!") {
		t.Errorf("output = %q, args were printf-interpolated", output)
	}

	// An odd trailing arg renders with a placeholder value rather than
	// corrupting the line.
	buf.Reset()
	logger.Info("odd args", "key")
	if !strings.Contains(buf.String(), "key=(MISSING)") {
		t.Errorf("output = %q, want key=(MISSING)", buf.String())
	}
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf})

	child := logger.WithPlugin("echo").WithComponent("manager")
	child.Info("hello")

	output := buf.String()
	if !strings.Contains(output, "plugin=echo") {
		t.Errorf("output missing plugin field: %q", output)
	}
	if !strings.Contains(output, "component=manager") {
		t.Errorf("output missing component field: %q", output)
	}

	// Parent is unaffected
	buf.Reset()
	logger.Info("plain")
	if strings.Contains(buf.String(), "plugin=echo") {
		t.Error("parent logger inherited child fields")
	}
}

func TestNull(t *testing.T) {
	// Must not panic and must not write anywhere.
	Null.Debug("x")
	Null.Info("x")
	Null.Warn("x")
	Null.Error("x")
}
