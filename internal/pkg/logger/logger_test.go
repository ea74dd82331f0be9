package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerCarriesServiceAttr(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("info", &buf)
	l.Info("started", "port", "8080")

	out := buf.String()
	if !strings.Contains(out, `"service":"raggate"`) {
		t.Fatalf("service attribute missing: %s", out)
	}
	if !strings.Contains(out, `"port":"8080"`) {
		t.Fatalf("caller attribute missing: %s", out)
	}
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("warn", &buf)

	l.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted at warn level: %s", buf.String())
	}
	l.Warn("emitted")
	if !strings.Contains(buf.String(), "emitted") {
		t.Fatalf("warn line missing: %s", buf.String())
	}
}
