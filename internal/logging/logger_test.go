package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(Config{Level: "info", Format: "console"})

	Info().Str("peer", "KEY1").Msg("identity created")

	out := buf.String()
	if !strings.Contains(out, `"message":"identity created"`) {
		t.Fatalf("missing message: %s", out)
	}
	if !strings.Contains(out, `"peer":"KEY1"`) {
		t.Fatalf("missing field: %s", out)
	}
}

func TestInit_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	defer Init(Config{Level: "info", Format: "console"})

	Info().Msg("hidden")
	Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}
