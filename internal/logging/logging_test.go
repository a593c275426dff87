package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManager_DefaultConfig(t *testing.T) {
	mgr, logger := NewManager(DefaultConfig())
	defer mgr.Close() //nolint:errcheck

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if mgr.Config().Level != "info" {
		t.Errorf("expected level info, got %s", mgr.Config().Level)
	}
	if mgr.Config().Format != "text" {
		t.Errorf("expected format text, got %s", mgr.Config().Format)
	}
}

func TestManager_LevelSwap(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := NewManagerWriter(Config{Level: "info", Format: "json"}, &buf)
	defer mgr.Close() //nolint:errcheck

	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("expected info to be enabled")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("expected debug to be disabled")
	}

	mgr.SetLevel("debug")
	if !logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("expected debug to be enabled after SetLevel")
	}

	mgr.Reconfigure(Config{Level: "error", Format: "json"})
	if logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("expected info to be disabled when level is error")
	}
	if !logger.Enabled(ctx, slog.LevelError) {
		t.Error("expected error to be enabled")
	}
}

func TestManager_FormatSwap(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := NewManagerWriter(Config{Level: "info", Format: "json"}, &buf)
	defer mgr.Close() //nolint:errcheck

	logger.Info("first")
	if !strings.Contains(buf.String(), `"msg":"first"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}

	buf.Reset()
	mgr.Reconfigure(Config{Level: "info", Format: "text"})
	logger.Info("second")
	if !strings.Contains(buf.String(), "msg=second") {
		t.Errorf("expected text output after reconfigure, got %q", buf.String())
	}

	// Derived loggers keep working after a swap.
	child := logger.With("component", "scanner")
	buf.Reset()
	mgr.Reconfigure(Config{Level: "info", Format: "syslog"})
	logger.Info("third")
	if !strings.HasPrefix(buf.String(), "<30>1 ") {
		t.Errorf("expected syslog output, got %q", buf.String())
	}
	buf.Reset()
	child.Info("fourth")
	if buf.Len() == 0 {
		t.Error("expected derived logger output")
	}
}

func TestManager_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "diskscan.log")

	var buf bytes.Buffer
	mgr, logger := NewManagerWriter(Config{
		Level:         "info",
		Format:        "json",
		FilePath:      logFile,
		FileMaxSizeMB: 1,
		FileMaxFiles:  1,
	}, &buf)

	logger.Info("to file", "key", "value")
	if err := mgr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("expected log file to contain message, got %q", data)
	}
	if !strings.Contains(buf.String(), "to file") {
		t.Errorf("expected stdout copy, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestValid(t *testing.T) {
	for _, s := range []string{"debug", "info", "warn", "error"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("trace") {
		t.Error("ValidLevel(trace) = true")
	}
	for _, s := range []string{"text", "json", "syslog"} {
		if !ValidFormat(s) {
			t.Errorf("ValidFormat(%q) = false", s)
		}
	}
	if ValidFormat("xml") {
		t.Error("ValidFormat(xml) = true")
	}
}
