package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	Port         int    `toml:"port"`
	MetricsPort  int    `toml:"metrics_port"` // 0 = disabled
	HTTPPort     int    `toml:"http_port"`    // websocket bridge, 0 = disabled
	DatabasePath string `toml:"database_path"`
	TempDir      string `toml:"temp_dir"`
}

type LimitsSection struct {
	SessionTimeoutSeconds int `toml:"session_timeout_seconds"` // 0 = no idle sweep
	MaxMessageLength      int `toml:"max_message_length"`
	WriteTimeoutSeconds   int `toml:"write_timeout_seconds"` // per-frame send deadline, 0 = none
}

// DefaultTOMLConfig returns the default server configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Port:         7420,
			MetricsPort:  9090,
			HTTPPort:     0,
			DatabasePath: "~/.pipechat/pipechat.db",
			TempDir:      "~/.pipechat/tmp",
		},
		Limits: LimitsSection{
			SessionTimeoutSeconds: 0, // OS-level liveness only
			MaxMessageLength:      4096,
			WriteTimeoutSeconds:   10,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates a default one if
// not found, and applies environment variable overrides.
func LoadConfig(path string) (TOMLConfig, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return TOMLConfig{}, err
	}
	path = expanded

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, cfg); err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to write default config: %w", err)
		}
		applyEnvOverrides(&cfg)
		return cfg, nil
	}

	var cfg TOMLConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Fill gaps left by partial config files
	defaults := DefaultTOMLConfig()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = defaults.Server.DatabasePath
	}
	if cfg.Server.TempDir == "" {
		cfg.Server.TempDir = defaults.Server.TempDir
	}
	if cfg.Limits.MaxMessageLength == 0 {
		cfg.Limits.MaxMessageLength = defaults.Limits.MaxMessageLength
	}
	if cfg.Limits.WriteTimeoutSeconds == 0 {
		cfg.Limits.WriteTimeoutSeconds = defaults.Limits.WriteTimeoutSeconds
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func writeDefaultConfig(path string, cfg TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func applyEnvOverrides(cfg *TOMLConfig) {
	if v := os.Getenv("PIPECHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PIPECHAT_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = port
		}
	}
	if v := os.Getenv("PIPECHAT_DB"); v != "" {
		cfg.Server.DatabasePath = v
	}
	if v := os.Getenv("PIPECHAT_TEMP_DIR"); v != "" {
		cfg.Server.TempDir = v
	}
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
