package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newCaptured(level Level, f Formatter) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(level), WithFormatter(f), WithOutput(NewWriterOutput(&buf)))
	return l, &buf
}

func TestLevelGate(t *testing.T) {
	l, buf := newCaptured(WarnLevel, &TextFormatter{})
	l.Info("hidden")
	l.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn missing: %q", out)
	}
}

func TestDerivedLoggerSharesLevel(t *testing.T) {
	l, buf := newCaptured(InfoLevel, &TextFormatter{})
	child := l.With(Component("kit"))
	l.SetLevel(ErrorLevel)
	child.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("child should follow parent level, got %q", buf.String())
	}
	if child.GetLevel() != ErrorLevel {
		t.Fatalf("child level = %v", child.GetLevel())
	}
}

func TestJSONFields(t *testing.T) {
	l, buf := newCaptured(DebugLevel, &JSONFormatter{})
	l.With(Component("cleaner")).Error("clean failed", Err(errors.New("boom")), Int("deleted", 3))
	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["component"] != "cleaner" || m["error"] != "boom" || m["msg"] != "clean failed" {
		t.Fatalf("unexpected entry: %v", m)
	}
	if m["level"] != "ERROR" {
		t.Fatalf("level = %v", m["level"])
	}
}

func TestContextFields(t *testing.T) {
	l, buf := newCaptured(InfoLevel, &TextFormatter{})
	ctx := ContextWith(context.Background(), AuthorKey, "app")
	l.WithContext(ctx).Info("merged")
	if !strings.Contains(buf.String(), "author=app") {
		t.Fatalf("author field missing: %q", buf.String())
	}
}

func TestApplyConfigRedaction(t *testing.T) {
	lg, err := ApplyConfig(&Config{Level: "debug", Format: "json", Outputs: []string{"null"}, Redact: []string{"secret"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	bl := lg.(*BaseLogger)
	var buf bytes.Buffer
	bl.outputs = []Output{NewWriterOutput(&buf)}
	lg.Info("x", Str("secret", "hunter2"))
	if strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("secret leaked: %q", buf.String())
	}
}

func TestApplyConfigRejectsUnknown(t *testing.T) {
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestSampler(t *testing.T) {
	s := newSampler(2, 3)
	var allowed int
	for i := 0; i < 8; i++ {
		if s.allow(0, "m") {
			allowed++
		}
	}
	// first 2, then n-initial in {0,3} -> 4 total
	if allowed != 4 {
		t.Fatalf("allowed = %d, want 4", allowed)
	}
}
