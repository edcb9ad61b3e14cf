package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentAttribute(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, false)
	defer Discard()

	Component("cold").Info("index loaded", "entries", 3)

	out := buf.String()
	if !strings.Contains(out, "component=cold") {
		t.Errorf("missing component attribute: %s", out)
	}
	if !strings.Contains(out, "entries=3") {
		t.Errorf("missing entries attribute: %s", out)
	}
}

func TestWithContextQueryID(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelDebug, true)
	defer Discard()

	ctx := ContextWithQueryID(context.Background(), "q-1")
	WithContext(ctx).Debug("executing")

	if !strings.Contains(buf.String(), `"query_id":"q-1"`) {
		t.Errorf("missing query_id: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("%s: expected %v, got %v", in, want, got)
		}
	}
}
