package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lyallcooper/diskscan/internal/logging"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Engine     EngineConfig     `yaml:"engine"`
	Signatures SignaturesConfig `yaml:"signatures"`
	Mount      MountConfig      `yaml:"mount"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Logging    logging.Config   `yaml:"logging"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Bind string `yaml:"bind"`
}

// Addr is the listen address for net/http
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type EngineConfig struct {
	Binary       string        `yaml:"binary"`
	LogPath      string        `yaml:"log_path"`
	RootTarget   string        `yaml:"root_target"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type SignaturesConfig struct {
	Dir    string        `yaml:"dir"`
	MaxAge time.Duration `yaml:"max_age"`
}

type MountConfig struct {
	BaseDir             string        `yaml:"base_dir"`
	QueryTimeout        time.Duration `yaml:"query_timeout"`
	MountTimeout        time.Duration `yaml:"mount_timeout"`
	UnmountTimeout      time.Duration `yaml:"unmount_timeout"`
	ForceUnmountTimeout time.Duration `yaml:"force_unmount_timeout"`
}

// SchedulerConfig holds cron expressions; an empty expression disables the job
type SchedulerConfig struct {
	Signatures string `yaml:"signatures"`
	Disks      string `yaml:"disks"`
}

type WatcherConfig struct {
	Enabled bool `yaml:"enabled"`
	// DevDir is watched for block device hot-plug
	DevDir string `yaml:"dev_dir"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080, Bind: "127.0.0.1"},
		Database: DatabaseConfig{Path: "./data/diskscan.db"},
		Engine: EngineConfig{
			Binary:       "clamscan",
			LogPath:      "/var/log/diskscan.log",
			RootTarget:   "/",
			StopTimeout:  5 * time.Second,
			DrainTimeout: 5 * time.Second,
		},
		Signatures: SignaturesConfig{
			Dir:    "/var/lib/clamav",
			MaxAge: 7 * 24 * time.Hour,
		},
		Mount: MountConfig{
			BaseDir:             "/tmp",
			QueryTimeout:        10 * time.Second,
			MountTimeout:        30 * time.Second,
			UnmountTimeout:      10 * time.Second,
			ForceUnmountTimeout: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Signatures: "*/15 * * * *",
			Disks:      "* * * * *",
		},
		Watcher: WatcherConfig{Enabled: true, DevDir: "/dev"},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads configuration from a YAML file (if it exists), then applies
// environment overrides. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(ExpandPath(path)); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	c.Server.Port = getEnvInt("DISKSCAN_PORT", c.Server.Port)
	c.Server.Bind = getEnv("DISKSCAN_BIND", c.Server.Bind)
	c.Database.Path = getEnv("DISKSCAN_DB_PATH", c.Database.Path)

	c.Engine.Binary = getEnv("DISKSCAN_CLAMSCAN", c.Engine.Binary)
	c.Engine.LogPath = getEnv("DISKSCAN_SCAN_LOG", c.Engine.LogPath)
	c.Engine.RootTarget = getEnv("DISKSCAN_ROOT_TARGET", c.Engine.RootTarget)

	c.Signatures.Dir = getEnv("DISKSCAN_SIGDB_DIR", c.Signatures.Dir)
	if days := getEnvInt("DISKSCAN_SIGDB_MAX_AGE_DAYS", 0); days > 0 {
		c.Signatures.MaxAge = time.Duration(days) * 24 * time.Hour
	}

	c.Mount.BaseDir = getEnv("DISKSCAN_MOUNT_DIR", c.Mount.BaseDir)
	if secs := getEnvInt("DISKSCAN_MOUNT_TIMEOUT", 0); secs > 0 {
		c.Mount.MountTimeout = time.Duration(secs) * time.Second
	}

	c.Scheduler.Signatures = getEnv("DISKSCAN_SIGDB_SCHEDULE", c.Scheduler.Signatures)
	c.Scheduler.Disks = getEnv("DISKSCAN_DISKS_SCHEDULE", c.Scheduler.Disks)
	c.Watcher.Enabled = getEnvBool("DISKSCAN_WATCH", c.Watcher.Enabled)

	c.Logging.Level = getEnv("DISKSCAN_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("DISKSCAN_LOG_FORMAT", c.Logging.Format)
	c.Logging.FilePath = getEnv("DISKSCAN_LOG_FILE", c.Logging.FilePath)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Engine.Binary == "" {
		return fmt.Errorf("engine binary is required")
	}
	if c.Engine.RootTarget == "" || !filepath.IsAbs(c.Engine.RootTarget) {
		return fmt.Errorf("root target must be an absolute path: %q", c.Engine.RootTarget)
	}
	if c.Mount.BaseDir == "" {
		return fmt.Errorf("mount base directory is required")
	}
	if c.Signatures.MaxAge <= 0 {
		return fmt.Errorf("invalid signature max age: %s", c.Signatures.MaxAge)
	}
	for name, d := range map[string]time.Duration{
		"stop_timeout":          c.Engine.StopTimeout,
		"drain_timeout":         c.Engine.DrainTimeout,
		"query_timeout":         c.Mount.QueryTimeout,
		"mount_timeout":         c.Mount.MountTimeout,
		"unmount_timeout":       c.Mount.UnmountTimeout,
		"force_unmount_timeout": c.Mount.ForceUnmountTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	c.Database.Path = ExpandPath(c.Database.Path)
	c.Logging.FilePath = ExpandPath(c.Logging.FilePath)
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory and cleans the path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return filepath.Clean(path)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
