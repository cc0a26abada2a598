package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tollgate/internal/config"
	"tollgate/internal/logging"
	"tollgate/internal/services"
)

func TestNewFromConfigWritesJSONLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "console"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("quota consumed", logging.String(logging.FieldOperation, "upload"), logging.Int64("cost", 1600))

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("log file line is not JSON: %v (%q)", err, line)
	}
	if payload["msg"] != "quota consumed" {
		t.Fatalf("unexpected msg: %v", payload["msg"])
	}
	if payload["operation"] != "upload" {
		t.Fatalf("unexpected operation: %v", payload["operation"])
	}
	if payload["level"] != "info" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")

	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerRendersComponentAndFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")

	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "breaker").Warn("circuit opened",
		logging.Int("failures", 5),
		logging.String("reason", "upstream 503"),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, want := range []string{"WARN breaker: circuit opened", "failures=5", `reason="upstream 503"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should render as prefix, got %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsGovernanceFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ctx.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithChannel(context.Background(), "main")
	ctx = services.WithOperation(ctx, "upload")
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithAttempt(ctx, 2)

	logging.WithContext(ctx, logger).Info("attempt failed")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["channel"] != "main" || payload["operation"] != "upload" || payload["run_id"] != "run-1" {
		t.Fatalf("missing context fields: %v", payload)
	}
	if payload["attempt"] != float64(2) {
		t.Fatalf("unexpected attempt: %v", payload["attempt"])
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "quota nearly exhausted", "quota_low", logging.String(logging.FieldImpact, "uploads will defer"))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["event_type"] != "quota_low" {
		t.Fatalf("unexpected event_type: %v", payload["event_type"])
	}
	if payload["error_hint"] == nil {
		t.Fatal("expected default error_hint")
	}
	if payload["impact"] != "uploads will defer" {
		t.Fatalf("caller impact should win, got %v", payload["impact"])
	}
}

func TestPruneLogs(t *testing.T) {
	dir := t.TempDir()
	rotated := filepath.Join(dir, logging.LogFileName+".1")
	archived := filepath.Join(dir, "governor-2026-04-01.log")
	active := logging.ActiveLogPath(dir)
	fresh := filepath.Join(dir, logging.LogFileName+".2")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{rotated, archived, active, fresh, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	stale := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{rotated, archived, active, other} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	if got := logging.PruneLogs(logging.NewNop(), dir, 3); got != 2 {
		t.Fatalf("expected 2 removals, got %d", got)
	}
	for _, path := range []string{rotated, archived} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat err=%v", path, err)
		}
	}
	for _, path := range []string{active, fresh, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}

	if got := logging.PruneLogs(nil, dir, 0); got != 0 {
		t.Fatalf("retention 0 should disable pruning, got %d", got)
	}
}
