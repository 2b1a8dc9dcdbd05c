package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Config holds all bridge configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Folder scanning
	ScanRoot string

	// Worker supervision
	WorkerCmd    string
	GraceMs      int
	QueueNudge   bool
	MCPConfig    string

	// Config directory (persisted bridge state)
	ConfigDir string

	// CORS
	TailscaleHostname string

	// Logging
	LogLevel string
	LogFile  string
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	home, _ := os.UserHomeDir()

	configDir := getEnv("BRIDGE_CONFIG_DIR", filepath.Join(home, ".gueridon"))
	scanRoot := getEnv("SCAN_ROOT", filepath.Join(home, "projects"))

	return &Config{
		// Server
		Port: getEnvInt("BRIDGE_PORT", 3001),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		// Folders
		ScanRoot: scanRoot,

		// Worker
		WorkerCmd:  getEnv("BRIDGE_WORKER_CMD", "claude"),
		GraceMs:    getEnvInt("GRACE_MS", 300000),
		QueueNudge: getEnv("BRIDGE_QUEUE_NUDGE", "") == "1",
		MCPConfig:  getEnv("BRIDGE_MCP_CONFIG", ""),

		// State
		ConfigDir: configDir,

		// CORS
		TailscaleHostname: getEnv("TAILSCALE_HOSTNAME", ""),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// SessionsFile is the persisted active-Worker record list used for orphan reaping.
func (c *Config) SessionsFile() string {
	return filepath.Join(c.ConfigDir, "sse-sessions.json")
}

// ShutdownFile is the one-shot shutdown context written at graceful shutdown.
func (c *Config) ShutdownFile() string {
	return filepath.Join(c.ConfigDir, "shutdown.json")
}

// VapidFile holds the push VAPID keypair.
func (c *Config) VapidFile() string {
	return filepath.Join(c.ConfigDir, "vapid.json")
}

// PushSubsFile holds registered push subscriptions.
func (c *Config) PushSubsFile() string {
	return filepath.Join(c.ConfigDir, "push-subscriptions.json")
}

// DatabasePath is the sqlite diagnostics store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ConfigDir, "bridge.sqlite")
}

// UploadsDir is the tus resumable-upload staging area.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.ConfigDir, "uploads")
}

// StagingDir holds staged deposits awaiting a folder assignment.
func (c *Config) StagingDir() string {
	return filepath.Join(c.ConfigDir, "staging")
}

// ExitMarkersDir holds per-session exit markers written by /exit.
func (c *Config) ExitMarkersDir() string {
	return filepath.Join(c.ConfigDir, "exit-markers")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
