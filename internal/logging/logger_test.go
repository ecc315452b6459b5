package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"murmur/internal/config"
	"murmur/internal/logging"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = dir
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "debug"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	logger.Info("hello", logging.String(logging.FieldComponent, "test"))

	data, err := os.ReadFile(filepath.Join(dir, "murmur.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"test"`) {
		t.Fatalf("expected structured component field, got %s", data)
	}
}

func TestCorrelationIDSurvivesDerivedLoggers(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = dir
	cfg.Logging.Format = "json"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	logger = logger.With(logging.Args(
		logging.String(logging.FieldCorrelationID, "inv-42"))...)
	derived := logging.NewComponentLogger(logger, "feed")
	derived.Warn("backend degraded",
		logging.String(logging.FieldErrorHint, "retry later"))

	data, err := os.ReadFile(filepath.Join(dir, "murmur.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{`"correlation_id":"inv-42"`, `"component":"feed"`, `"error_hint":"retry later"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("expected %s in record, got %s", want, data)
		}
	}
}

func TestComponentLoggerToleratesNilBase(t *testing.T) {
	logger := logging.NewComponentLogger(nil, "feed")
	logger.Info("should not panic")
}
