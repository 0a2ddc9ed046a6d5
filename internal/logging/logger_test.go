package logging_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"castdeploy/internal/config"
	"castdeploy/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("deploy finished", slog.Int("uploaded", 2))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "castdeploy.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "deploy finished") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerPrefixesComponent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "remote").Warn("close session", logging.Error(errors.New("broken pipe")))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "WARN remote: close session") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, `error="broken pipe"`) {
		t.Fatalf("expected quoted error value, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
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

	logger.Debug("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestJSONLoggerRenamesKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("run recorded", slog.String(logging.FieldRunID, "r-1"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if payload["msg"] != "run recorded" || payload["level"] != "info" || payload[logging.FieldRunID] != "r-1" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %#v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(t.Context(), slog.LevelError) {
		t.Fatal("expected nop logger to be disabled")
	}
}

func TestLoggersRedactSensitiveAttributes(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		t.Run(format, func(t *testing.T) {
			logPath := filepath.Join(t.TempDir(), format+".log")
			logger, err := logging.New(logging.Options{
				Format:      format,
				Level:       "info",
				OutputPaths: []string{logPath},
			})
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}

			logger.Info("connect",
				slog.String("password", "hunter2"),
				slog.Group("sftp", slog.String("private_key", "-----BEGIN")),
				slog.String(logging.FieldDestinationID, "d-1"),
			)

			content, err := os.ReadFile(logPath)
			if err != nil {
				t.Fatalf("read log file: %v", err)
			}
			line := string(content)
			if strings.Contains(line, "hunter2") || strings.Contains(line, "BEGIN") {
				t.Fatalf("secret leaked into %s log: %q", format, line)
			}
			if !strings.Contains(line, "[redacted]") || !strings.Contains(line, "d-1") {
				t.Fatalf("unexpected %s log line: %q", format, line)
			}
		})
	}
}

func TestSensitive(t *testing.T) {
	cases := map[string]bool{
		"password":        true,
		"sftp.Passphrase": true,
		"api_key":         true,
		"destination_id":  false,
		"path":            false,
	}
	for key, want := range cases {
		if got := logging.Sensitive(key); got != want {
			t.Fatalf("Sensitive(%q) = %v, want %v", key, got, want)
		}
	}
}
