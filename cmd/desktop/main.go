package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/linux"

	"github.com/lyallcooper/diskscan/internal/app"
	"github.com/lyallcooper/diskscan/internal/webfs"
)

// Version info - injected at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const preferredPort = 18080

func main() {
	// Set desktop-specific defaults before loading config
	setDesktopDefaults()

	// Find available port for internal server
	port, err := findAvailablePort()
	if err != nil {
		slog.Error("failed to find available port", "error", err)
		os.Exit(1)
	}

	clamscanBinary := findBundledClamscan()
	if clamscanBinary != "" {
		slog.Info("using bundled clamscan", "path", clamscanBinary)
	}

	// Create the internal HTTP server
	server, err := app.CreateServer(app.Options{
		Port:           port,
		ClamscanBinary: clamscanBinary,
		Version:        version,
		Commit:         commit,
		WebFS:          webfs.FS,
		BindAddress:    "127.0.0.1", // Only local connections
		DisableCSRF:    true,        // CSRF not needed for desktop app
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	log := server.Logger

	// Create reverse proxy to internal server
	targetURL, _ := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
	proxy := httputil.NewSingleHostReverseProxy(targetURL)

	desktopApp := NewApp(server.Scanner)

	err = wails.Run(&options.App{
		Title:            "diskscan",
		Width:            1280,
		Height:           800,
		MinWidth:         800,
		MinHeight:        600,
		WindowStartState: options.Fullscreen,
		AssetServer: &assetserver.Options{
			Handler: proxy,
		},
		OnStartup: func(ctx context.Context) {
			desktopApp.startup(ctx)
			// Start HTTP server in background
			go func() {
				log.Info("internal server listening", "url", targetURL.String())
				if err := server.HTTP.ListenAndServe(); err != http.ErrServerClosed {
					log.Error("HTTP server error", "error", err)
				}
			}()
		},
		OnBeforeClose: desktopApp.beforeClose,
		OnShutdown: func(ctx context.Context) {
			log.Info("shutting down")
			server.HTTP.Shutdown(context.Background()) //nolint:errcheck
			server.Cleanup()
			log.Info("shutdown complete")
		},
		Bind: []interface{}{
			desktopApp,
		},
		Linux: &linux.Options{
			ProgramName:      "diskscan",
			WebviewGpuPolicy: linux.WebviewGpuPolicyNever,
		},
	})

	if err != nil {
		log.Error("wails error", "error", err)
		os.Exit(1)
	}
}

// findAvailablePort finds an available TCP port on localhost.
func findAvailablePort() (int, error) {
	// Try preferred port first
	if isPortAvailable(preferredPort) {
		return preferredPort, nil
	}

	// Otherwise find any available port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// isPortAvailable checks if a port is available on localhost.
func isPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// setDesktopDefaults points the settings store at the user's data directory
// unless it's already configured.
func setDesktopDefaults() {
	if os.Getenv("DISKSCAN_DB_PATH") != "" {
		return
	}
	dataDir := getAppDataDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		slog.Warn("could not create data directory", "dir", dataDir, "error", err)
	}
	os.Setenv("DISKSCAN_DB_PATH", filepath.Join(dataDir, "diskscan.db")) //nolint:errcheck
}

// getAppDataDir returns the XDG data directory for diskscan.
func getAppDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "diskscan")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "diskscan")
}

// findBundledClamscan looks for a clamscan shipped next to the executable.
// An empty result leaves the configured binary in place.
func findBundledClamscan() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	return bundledClamscan(filepath.Dir(execPath))
}

func bundledClamscan(execDir string) string {
	candidates := []string{
		filepath.Join(execDir, "clamscan"),
		filepath.Join(execDir, "..", "lib", "diskscan", "clamscan"),
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
