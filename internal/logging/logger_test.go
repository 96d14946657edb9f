package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_ConsoleFormatIncludesComponentAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})
	l.WithComponent("firewall").Info("rules installed", "count", 3)

	out := buf.String()
	if !strings.Contains(out, "firewall:") {
		t.Errorf("expected component prefix in %q", out)
	}
	if !strings.Contains(out, "rules installed") {
		t.Errorf("expected message in %q", out)
	}
	if !strings.Contains(out, "count=3") {
		t.Errorf("expected attr in %q", out)
	}
}

func TestNew_JSONHandlerProducesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, JSON: true})
	l.Info("hello")

	out := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(out, "{") || !strings.HasSuffix(out, "}") {
		t.Errorf("expected a JSON object line, got %q", out)
	}
}

func TestParseLevel_DefaultsToInfoOnUnrecognized(t *testing.T) {
	if got := ParseLevel("nonsense"); got != LevelInfo {
		t.Errorf("got %v, want LevelInfo", got)
	}
}

func TestSetLevel_SuppressesBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})
	l.SetLevel(LevelWarn)
	l.Info("should not appear")

	if buf.Len() != 0 {
		t.Errorf("expected no output below the new level, got %q", buf.String())
	}
}
