package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("default level = %s, want info", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("default output should be JSON")
	}
}

func TestSetup_WritesAtConfiguredLevel(t *testing.T) {
	tests := []struct {
		level LogLevel
		emit  func(zerolog.Logger)
	}{
		{LevelDebug, func(l zerolog.Logger) { l.Debug().Msg("page fetched") }},
		{LevelInfo, func(l zerolog.Logger) { l.Info().Msg("page fetched") }},
		{LevelWarn, func(l zerolog.Logger) { l.Warn().Msg("page fetched") }},
		{LevelError, func(l zerolog.Logger) { l.Error().Msg("page fetched") }},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.emit(Setup(Config{Level: tt.level, Output: buf}))

			if !strings.Contains(buf.String(), "page fetched") {
				t.Errorf("output = %q, want the message", buf.String())
			}
		})
	}
}

func TestSetup_PrettyIsNotJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Pretty: true, Output: buf}).Info().Msg("hello")

	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("pretty output should not be JSON: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "warn", "warning", "error"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("trace") {
		t.Error("ValidLevel(trace) = true")
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	NewLogger("checkpoint").Info().Msg("saved")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "checkpoint" {
		t.Errorf("component = %v, want checkpoint", entry["component"])
	}
}

func TestForRun(t *testing.T) {
	buf := &bytes.Buffer{}
	base := zerolog.New(buf)

	ForRun(base, "run-1", "sweep").Info().Msg("cycle")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["run_id"] != "run-1" || entry["mode"] != "sweep" {
		t.Errorf("entry = %v", entry)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelWarn, Output: buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	output := buf.String()
	for _, dropped := range []string{"debug message", "info message"} {
		if strings.Contains(output, dropped) {
			t.Errorf("%q should be filtered at warn level", dropped)
		}
	}
	for _, kept := range []string{"warn message", "error message"} {
		if !strings.Contains(output, kept) {
			t.Errorf("%q missing at warn level", kept)
		}
	}
}
