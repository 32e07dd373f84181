package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultOpenStrategy reuses a window already showing the file, else opens
// it in a new tab page.
const DefaultOpenStrategy = "tab drop"

// Environment variables that override file values.
const (
	EnvLogLevel     = "GUISE_LOG_LEVEL"
	EnvLogPath      = "GUISE_LOG_PATH"
	EnvOpenStrategy = "GUISE_OPEN_STRATEGY"
)

// Config represents daemon configuration
type Config struct {
	Host         string `json:"host"`          // listener bind host, loopback only
	OpenStrategy string `json:"open_strategy"` // Ex command prefix used by edit(), e.g. "tab drop", "split"
	LogLevel     string `json:"log_level"`     // debug, info, warn, error, none
	LogPath      string `json:"log_path,omitempty"`
}

func defaultConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "guise")
		}
	}
	if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
		return filepath.Join(configHome, "guise")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "guise")
}

func defaultStateDir() string {
	if runtime.GOOS == "windows" {
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "guise")
		}
	}
	if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
		return filepath.Join(stateHome, "guise")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "state", "guise")
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		OpenStrategy: DefaultOpenStrategy,
		LogLevel:     "info",
		LogPath:      filepath.Join(defaultStateDir(), "guised.log"),
	}
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Load loads configuration from path on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = defaults.Host
	}
	if strings.TrimSpace(cfg.OpenStrategy) == "" {
		cfg.OpenStrategy = defaults.OpenStrategy
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogPath == "" {
		cfg.LogPath = defaults.LogPath
	}

	return cfg, nil
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(getenv(EnvLogPath)); v != "" {
		c.LogPath = v
	}
	if v := strings.TrimSpace(getenv(EnvOpenStrategy)); v != "" {
		c.OpenStrategy = v
	}
}

// Validate rejects configurations that would expose listeners beyond the
// loopback interface.
func (c *Config) Validate() error {
	if c.Host == "localhost" {
		return nil
	}
	ip := net.ParseIP(c.Host)
	if ip == nil {
		return fmt.Errorf("host %q is not an IP address", c.Host)
	}
	if !ip.IsLoopback() {
		return fmt.Errorf("host %q is not a loopback address", c.Host)
	}
	return nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
