package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	EnvLogLevel     = "FABRIC_LOG_LEVEL"
	EnvLogFormat    = "FABRIC_LOG_FORMAT"
	EnvLogTimestamp = "FABRIC_LOG_TIMESTAMP"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// New builds a logger for the given profile, applying FABRIC_LOG_* overrides
// from getenv. A nil getenv reads the process environment.
func New(w io.Writer, profile Profile, getenv func(string) string) *log.Logger {
	if getenv == nil {
		getenv = os.Getenv
	}
	opts := defaultOptions(profile)
	applyEnvOverrides(&opts, getenv)
	return log.NewWithOptions(w, opts)
}

// Discard returns a logger that writes nowhere.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

func defaultOptions(profile Profile) log.Options {
	switch profile {
	case ProfileTest:
		return log.Options{Level: log.DebugLevel, ReportTimestamp: false}
	default:
		return log.Options{Level: log.InfoLevel, ReportTimestamp: true}
	}
}

func applyEnvOverrides(opts *log.Options, getenv func(string) string) {
	if lvl, ok := parseLevel(getenv(EnvLogLevel)); ok {
		opts.Level = lvl
	}
	if f, ok := parseFormat(getenv(EnvLogFormat)); ok {
		opts.Formatter = f
	}
	if v, ok := parseBool(getenv(EnvLogTimestamp)); ok {
		opts.ReportTimestamp = v
	}
}

func parseLevel(raw string) (log.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return log.InfoLevel, false
	case "debug", "trace":
		return log.DebugLevel, true
	case "info":
		return log.InfoLevel, true
	case "warn", "warning":
		return log.WarnLevel, true
	case "error":
		return log.ErrorLevel, true
	case "off", "none", "disabled":
		return log.FatalLevel, true
	default:
		return log.InfoLevel, false
	}
}

func parseFormat(raw string) (log.Formatter, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text":
		return log.TextFormatter, true
	case "json":
		return log.JSONFormatter, true
	case "logfmt":
		return log.LogfmtFormatter, true
	default:
		return log.TextFormatter, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
