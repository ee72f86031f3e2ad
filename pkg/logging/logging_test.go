package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestTestProfileLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, ProfileTest, envMap(nil))
	logger.Debug("route mounted", "route", "/users")
	if !strings.Contains(buf.String(), "route mounted") {
		t.Fatalf("expected debug line, got %q", buf.String())
	}
}

func TestEnvOverridesLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, ProfileRuntime, envMap(map[string]string{
		EnvLogLevel:     "warn",
		EnvLogFormat:    "json",
		EnvLogTimestamp: "false",
	}))
	if logger.GetLevel() != log.WarnLevel {
		t.Fatalf("level = %v, want warn", logger.GetLevel())
	}
	logger.Info("hidden")
	logger.Warn("shown", "port", 8793)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected json output, got %q", out)
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("unknown level should not parse")
	}
	if _, ok := parseBool("maybe"); ok {
		t.Fatalf("invalid bool should not parse")
	}
}
