package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSyslogHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewSyslogHandler(&buf, "diskscan", slog.LevelInfo)
	logger := slog.New(h).With("component", "scanner")

	logger.Warn("threat found", "path", "/mnt/a/eicar.com", "count", 1)

	line := buf.String()
	// daemon facility (3) with warning severity (4)
	if !strings.HasPrefix(line, "<28>1 ") {
		t.Fatalf("unexpected priority header: %q", line)
	}
	for _, want := range []string{
		" diskscan ",
		`component="scanner"`,
		`path="/mnt/a/eicar.com"`,
		`count="1"`,
		"threat found",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("expected newline terminated record")
	}
}

func TestSyslogHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	h := NewSyslogHandler(&buf, "diskscan", slog.LevelWarn)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled")
	}
	slog.New(h).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestSyslogHandler_Group(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSyslogHandler(&buf, "diskscan", slog.LevelDebug))

	logger.WithGroup("mount").Debug("mounted", "point", "/tmp/x", slog.Group("dev", "name", "sdb1"))

	line := buf.String()
	if !strings.HasPrefix(line, "<31>1 ") {
		t.Fatalf("unexpected priority header: %q", line)
	}
	for _, want := range []string{`mount.point="/tmp/x"`, `mount.dev.name="sdb1"`} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	sink.LogInfo("mounted /dev/sdb1")
	sink.LogWarning("unmount timed out")
	sink.LogError("scan failed")

	out := buf.String()
	for _, want := range []string{
		"level=INFO msg=\"mounted /dev/sdb1\" component=activity",
		"level=WARN msg=\"unmount timed out\" component=activity",
		"level=ERROR msg=\"scan failed\" component=activity",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}
