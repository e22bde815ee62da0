// Package config provides configuration management for OpenVPN3 Manager.
// It handles loading, saving, and validating application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/ovpn3-manager/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// PollIntervalSeconds is how often session state is reconciled
	// against the openvpn3 control plane.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// PollTimeoutSeconds bounds status commands (listings, stats).
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`
	// StartTimeoutSeconds bounds session-start.
	StartTimeoutSeconds int `yaml:"start_timeout_seconds"`
	// StopTimeoutSeconds bounds session disconnect.
	StopTimeoutSeconds int `yaml:"stop_timeout_seconds"`
	// UseKeyring prefers the system secret service for credentials.
	// When false, only the encrypted local file store is used.
	UseKeyring bool `yaml:"use_keyring"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// HistoryEnabled records connection events to the local history database.
	HistoryEnabled bool `yaml:"history_enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PollIntervalSeconds: int(common.DefaultPollInterval / time.Second),
		PollTimeoutSeconds:  int(common.PollCommandTimeout / time.Second),
		StartTimeoutSeconds: int(common.StartCommandTimeout / time.Second),
		StopTimeoutSeconds:  int(common.StopCommandTimeout / time.Second),
		UseKeyring:          true,
		ShowNotifications:   true,
		HistoryEnabled:      true,
	}
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// PollTimeout returns the status command timeout as a duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// StartTimeout returns the session-start timeout as a duration.
func (c *Config) StartTimeout() time.Duration {
	return time.Duration(c.StartTimeoutSeconds) * time.Second
}

// StopTimeout returns the disconnect timeout as a duration.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// Load loads the configuration from the config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	var config Config
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	config.validate()

	return &config, nil
}

// validate clamps out-of-range values back to defaults.
func (c *Config) validate() {
	def := DefaultConfig()
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = def.PollIntervalSeconds
	}
	if c.PollTimeoutSeconds <= 0 {
		c.PollTimeoutSeconds = def.PollTimeoutSeconds
	}
	if c.StartTimeoutSeconds <= 0 {
		c.StartTimeoutSeconds = def.StartTimeoutSeconds
	}
	if c.StopTimeoutSeconds <= 0 {
		c.StopTimeoutSeconds = def.StopTimeoutSeconds
	}
}

// Save saves the configuration to the file.
func (c *Config) Save() error {
	configPath, err := getConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}

	return nil
}

func getConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}
