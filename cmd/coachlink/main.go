package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.coachlink/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Push    ConfigPush    `toml:"push"`
}

// ConfigDefault holds the account the CLI acts as.
type ConfigDefault struct {
	Token       string `toml:"token"`
	UserID      string `toml:"user_id"`
	Role        string `toml:"role"`
	DisplayName string `toml:"display_name"`
	BaseURL     string `toml:"base_url"`
}

// ConfigPush holds settings for the local push webhook listener.
type ConfigPush struct {
	Secret string `toml:"secret"`
	Addr   string `toml:"addr"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.coachlink, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".coachlink")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.token").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.token)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "token":
			cfg.Default.Token = value
		case "user_id":
			cfg.Default.UserID = value
		case "role":
			cfg.Default.Role = value
		case "display_name":
			cfg.Default.DisplayName = value
		case "base_url":
			cfg.Default.BaseURL = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "push":
		switch field {
		case "secret":
			cfg.Push.Secret = value
		case "addr":
			cfg.Push.Addr = value
		default:
			return fmt.Errorf("unknown field %q in section [push]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, push)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "coachlink",
	Short: "CoachLink realtime CLI",
	Long:  "Command-line interface for the CoachLink realtime client.\nManage credentials, tail live events, and work with notifications.",
}

func main() {
	// A .env in the working directory can override the stored config
	// (COACHLINK_TOKEN, COACHLINK_USER_ID, ...). Missing file is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
