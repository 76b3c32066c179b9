package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.megalodon/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
	Stream  ConfigStream  `toml:"stream"`
}

// ConfigDefault holds the server settings.
type ConfigDefault struct {
	Provider     string `toml:"provider"`
	BaseURL      string `toml:"base_url"`
	StreamingURL string `toml:"streaming_url"`
	UserAgent    string `toml:"user_agent"`
	Proxy        string `toml:"proxy"`
}

// ConfigAuth holds the OAuth credential.
type ConfigAuth struct {
	AccessToken string `toml:"access_token"`
}

// ConfigStream holds streaming behaviour.
type ConfigStream struct {
	EventStream bool `toml:"event_stream"`
	MaxAttempts uint `toml:"max_attempts"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.megalodon, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".megalodon")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

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

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "provider":
			if _, err := parseProvider(value); err != nil {
				return err
			}
			cfg.Default.Provider = value
		case "base_url":
			cfg.Default.BaseURL = value
		case "streaming_url":
			cfg.Default.StreamingURL = value
		case "user_agent":
			cfg.Default.UserAgent = value
		case "proxy":
			cfg.Default.Proxy = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "access_token":
			cfg.Auth.AccessToken = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "stream":
		switch field {
		case "event_stream":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("stream.event_stream: %w", err)
			}
			cfg.Stream.EventStream = b
		case "max_attempts":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return fmt.Errorf("stream.max_attempts: %w", err)
			}
			cfg.Stream.MaxAttempts = uint(n)
		default:
			return fmt.Errorf("unknown field %q in section [stream]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, stream)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var logLevel string

var rootCmd = &cobra.Command{
	Use:          "megalodon",
	Short:        "Fediverse streaming CLI",
	Long:         "Command-line interface for megalodon streaming.\nSubscribe to Mastodon, Pleroma, Friendica and Misskey timelines and print events as JSON lines.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
