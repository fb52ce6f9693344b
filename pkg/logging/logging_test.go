package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		if got := test.level.SlogLevel(); got != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, got, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Info("test-subsystem", "test message %d", 42)

	output := buf.String()
	if !strings.Contains(output, "test message 42") {
		t.Errorf("expected formatted message in output, got: %s", output)
	}
	if !strings.Contains(output, "subsystem=test-subsystem") {
		t.Errorf("expected subsystem attribute in output, got: %s", output)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelWarn, &buf)

	Debug("Session", "debug line")
	Info("Session", "info line")
	Warn("Session", "warn line")

	output := buf.String()
	if strings.Contains(output, "debug line") || strings.Contains(output, "info line") {
		t.Errorf("expected debug/info to be filtered, got: %s", output)
	}
	if !strings.Contains(output, "warn line") {
		t.Errorf("expected warn line in output, got: %s", output)
	}
}

func TestErrorAttachesErrorAttribute(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf)

	Error("Flow", errors.New("boom"), "exchange failed")

	output := buf.String()
	if !strings.Contains(output, "exchange failed") || !strings.Contains(output, "error=boom") {
		t.Errorf("expected message and error attribute, got: %s", output)
	}
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Audit(AuditEvent{
		Action:  "logout",
		Outcome: "success",
		Subject: "user-1",
	})

	output := buf.String()
	for _, want := range []string{"[AUDIT] logout", "outcome=success", "subject=user-1"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in audit output, got: %s", want, output)
		}
	}
	if strings.Contains(output, "flow_id") {
		t.Errorf("empty fields should be omitted, got: %s", output)
	}
}

func TestForSubsystem(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf)

	ForSubsystem("OAuth").Debug("Cached OAuth metadata", "issuer", "https://sso.example.com")

	output := buf.String()
	if !strings.Contains(output, "subsystem=OAuth") || !strings.Contains(output, "issuer=https://sso.example.com") {
		t.Errorf("expected subsystem and issuer attributes, got: %s", output)
	}
}
