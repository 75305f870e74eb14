package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l.Debug("debug msg")
	l.Info("info msg")
	l.Warn("warn msg")
	l.Error("error msg")

	out := buf.String()
	for _, want := range []string{"debug msg", "info msg", "warn msg", "error msg"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestWithAddsContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.NewTextHandler(&buf, nil))
	l.With("pkg", "jq").Info("installing")

	if !strings.Contains(buf.String(), "pkg=jq") {
		t.Errorf("expected contextual attribute in output, got %q", buf.String())
	}
}

func TestNoopLoggerDiscardsOutput(t *testing.T) {
	l := NewNoop()
	// Should not panic and should return another noop from With.
	l.Debug("x")
	if _, ok := l.With("a", "b").(noopLogger); !ok {
		t.Fatalf("expected With on noop to return noopLogger")
	}
}

func TestDefaultLoggerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New(slog.NewTextHandler(&buf, nil)))
	defer SetDefault(NewNoop())

	Default().Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected default logger to log, got %q", buf.String())
	}
}
