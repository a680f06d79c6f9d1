package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/user/vidcompress/pkg/ports"
)

func TestConsoleLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(ports.LevelInfo, &buf)

	log.Debug("hidden %d", 1)
	log.Info("shown %d", 2)
	log.Warn("warned")
	log.Error("failed: %s", "boom")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message should be filtered at info level")
	}
	for _, want := range []string{"shown 2", "warned", "failed: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestConsoleLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(ports.LevelDebug, &buf).WithComponent("encode")

	log.Debug("custom message")
	if got := strings.TrimSpace(buf.String()); got != "[encode] custom message" {
		t.Errorf("unexpected line %q", got)
	}
}

func TestConsoleLogger_PercentWithoutArgs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(ports.LevelInfo, &buf)

	log.Info("100% done")
	if got := strings.TrimSpace(buf.String()); got != "100% done" {
		t.Errorf("unexpected line %q", got)
	}
}

func TestConsoleLogger_Quiet(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(ports.LevelQuiet, &buf)

	log.Error("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestNoopLogger(t *testing.T) {
	var log ports.Logger = NewNoop()
	log.Info("nothing")
	log.WithComponent("x").Error("still nothing")

	if got := NewNoop().level; got != ports.LevelQuiet {
		t.Errorf("expected quiet level, got %s", got)
	}
}
