package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetLoggerCapturesOutput(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)

	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))

	Info().Str("site", "40.41680,-3.70380").Msg("analysis stored")

	out := buf.String()
	if !strings.Contains(out, `"site":"40.41680,-3.70380"`) {
		t.Fatalf("expected structured field in output, got %s", out)
	}
	if !strings.Contains(out, "analysis stored") {
		t.Fatalf("expected message in output, got %s", out)
	}
}
