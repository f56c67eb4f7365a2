package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".brickrelay"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("BRICKRELAY_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("BRICKRELAY_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

// Load reads the config file (if present), applies environment overrides
// and returns the result. Callers decide when to Validate.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err == nil {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Override with environment variables for each group.
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	steps := []struct {
		prefix string
		target any
	}{
		{"BRICKRELAY", cfg},
		{"BRICKRELAY_DATABRICKS", &cfg.Databricks},
		{"BRICKRELAY_DATABRICKS_GENIE", &cfg.Databricks.Genie},
		{"BRICKRELAY_DATABRICKS_SERVING", &cfg.Databricks.Serving},
		{"BRICKRELAY_SLACK", &cfg.Slack},
		{"BRICKRELAY_RELAY", &cfg.Relay},
		{"BRICKRELAY_AUDIT", &cfg.Audit},
	}
	for _, s := range steps {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return fmt.Errorf("config: env overrides (%s): %w", s.prefix, err)
		}
	}

	// Direct Slack/Databricks env names used by the hosting platforms,
	// honored so deployments need no extra mapping.
	if v := strings.TrimSpace(os.Getenv("SLACK_BOT_TOKEN")); v != "" {
		cfg.Slack.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("SLACK_APP_TOKEN")); v != "" {
		cfg.Slack.AppToken = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABRICKS_HOST")); v != "" {
		cfg.Databricks.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABRICKS_TOKEN")); v != "" {
		cfg.Databricks.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABRICKS_CLIENT_ID")); v != "" {
		cfg.Databricks.ClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABRICKS_CLIENT_SECRET")); v != "" {
		cfg.Databricks.ClientSecret = v
	}
	return nil
}

// Save writes the config to the default path, creating the directory if
// needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
