package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/lyallcooper/diskscan/internal/types"
)

func TestSetDesktopDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("DISKSCAN_DB_PATH", "")

	setDesktopDefaults()

	want := filepath.Join(dir, "diskscan", "diskscan.db")
	if got := os.Getenv("DISKSCAN_DB_PATH"); got != want {
		t.Errorf("DISKSCAN_DB_PATH = %q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "diskscan")); err != nil {
		t.Errorf("data dir not created: %v", err)
	}

	t.Setenv("DISKSCAN_DB_PATH", "/custom/diskscan.db")
	setDesktopDefaults()
	if got := os.Getenv("DISKSCAN_DB_PATH"); got != "/custom/diskscan.db" {
		t.Errorf("explicit path overwritten: %q", got)
	}
}

func TestIsPortAvailable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port
	if isPortAvailable(port) {
		t.Errorf("port %d reported available while in use", port)
	}

	got, err := findAvailablePort()
	if err != nil {
		t.Fatalf("findAvailablePort: %v", err)
	}
	if got == port {
		t.Errorf("findAvailablePort returned busy port %d", got)
	}
}

func TestBundledClamscan(t *testing.T) {
	dir := t.TempDir()
	if got := bundledClamscan(dir); got != "" {
		t.Errorf("expected no bundled binary, got %q", got)
	}

	libDir := filepath.Join(dir, "lib", "diskscan")
	if err := os.MkdirAll(libDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(libDir, "clamscan"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	binDir := filepath.Join(dir, "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(binDir, "..", "lib", "diskscan", "clamscan")
	if got := bundledClamscan(binDir); got != want {
		t.Errorf("bundledClamscan = %q, want %q", got, want)
	}
}

type fakeScanState struct {
	state   types.SessionState
	stopped bool
}

func (f *fakeScanState) CurrentState() types.SessionState { return f.state }
func (f *fakeScanState) StopScan() bool {
	f.stopped = true
	return true
}

func TestBeforeClose(t *testing.T) {
	tests := []struct {
		name       string
		state      types.SessionState
		answer     bool
		wantCancel bool
		wantStop   bool
		wantAsked  bool
	}{
		{"idle", types.StateIdle, false, false, false, false},
		{"finished", types.StateCompleted, false, false, false, false},
		{"scanning declined", types.StateScanning, false, true, false, true},
		{"scanning accepted", types.StateScanning, true, false, true, true},
		{"mounting accepted", types.StateMounting, true, false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &fakeScanState{state: tt.state}
			a := NewApp(scanner)
			asked := false
			a.confirm = func(context.Context, string, string) bool {
				asked = true
				return tt.answer
			}

			if got := a.beforeClose(context.Background()); got != tt.wantCancel {
				t.Errorf("beforeClose = %v, want %v", got, tt.wantCancel)
			}
			if scanner.stopped != tt.wantStop {
				t.Errorf("stopped = %v, want %v", scanner.stopped, tt.wantStop)
			}
			if asked != tt.wantAsked {
				t.Errorf("asked = %v, want %v", asked, tt.wantAsked)
			}
		})
	}
}
