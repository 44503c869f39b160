package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dunamismax/pixelfilter/internal/config"
	"github.com/sirupsen/logrus"
)

func TestNewWithOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", l.GetLevel())
	}

	l.WithField("operation", "gaussian").Info("processed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["operation"] != "gaussian" || entry["msg"] != "processed" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewWithOutputFallbacks(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(config.LogConfig{Level: "loud", Format: "text"}, &buf)
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %s", l.GetLevel())
	}

	l.Debug("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
