package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Backend != BackendGenie {
		t.Errorf("expected default backend genie, got %s", cfg.Backend)
	}
	if cfg.Databricks.AskTimeout != 30*time.Second {
		t.Errorf("expected ask timeout 30s, got %v", cfg.Databricks.AskTimeout)
	}
	if cfg.Databricks.Genie.PollInterval != 2*time.Second {
		t.Errorf("expected poll interval 2s, got %v", cfg.Databricks.Genie.PollInterval)
	}
	if cfg.Relay.ConversationTTL != 24*time.Hour {
		t.Errorf("expected conversation TTL 24h, got %v", cfg.Relay.ConversationTTL)
	}
	if cfg.Relay.DedupeTTL != 10*time.Minute {
		t.Errorf("expected dedupe TTL 10m, got %v", cfg.Relay.DedupeTTL)
	}
	if cfg.Relay.DedupeMaxSize != 10000 {
		t.Errorf("expected dedupe max size 10000, got %d", cfg.Relay.DedupeMaxSize)
	}
	if cfg.Relay.RedeliveryPolicy != RedeliveryFailClosed {
		t.Errorf("expected fail-closed default, got %s", cfg.Relay.RedeliveryPolicy)
	}
	if cfg.Audit.Topic != "brickrelay.exchanges" {
		t.Errorf("expected default audit topic, got %s", cfg.Audit.Topic)
	}
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Databricks.Host = "https://example.cloud.databricks.com"
	cfg.Databricks.Token = "dapi-test"
	cfg.Databricks.Genie.SpaceID = "space-1"
	cfg.Slack.BotToken = "xoxb-test"
	cfg.Slack.AppToken = "xapp-test"
	return cfg
}

func TestValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestValidateReportsAllMissing(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty config")
	}
	for _, want := range []string{"databricks.host", "slack.botToken", "slack.appToken", "databricks.genie.spaceId"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error should name %s, got: %v", want, err)
		}
	}
}

func TestValidateOAuthCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Databricks.Token = ""
	cfg.Databricks.ClientID = "sp-client"
	cfg.Databricks.ClientSecret = "sp-secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("OAuth credentials should satisfy validation: %v", err)
	}

	cfg.Databricks.ClientSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("client id without secret should fail validation")
	}
}

func TestValidateEndpointBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Backend = BackendEndpoint
	if err := cfg.Validate(); err == nil {
		t.Error("endpoint backend without endpoint name should fail")
	}
	cfg.Databricks.Serving.EndpointName = "chat-model"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestValidateUnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Backend = "warehouse"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend should fail validation")
	}
}

func TestValidateAudit(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("enabled audit without brokers should fail")
	}
	cfg.Audit.Brokers = []string{"localhost:9092"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BRICKRELAY_HOME", filepath.Join(t.TempDir(), "nonexistent"))
	t.Setenv("BRICKRELAY_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend != BackendGenie {
		t.Errorf("expected default backend, got %s", cfg.Backend)
	}
}

func TestLoadFromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("BRICKRELAY_HOME", home)
	t.Setenv("BRICKRELAY_CONFIG", "")

	configDir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	configJSON := `{
		"backend": "endpoint",
		"databricks": {
			"host": "https://dbc.example.com",
			"serving": {"endpointName": "chat-model"}
		},
		"relay": {"redeliveryPolicy": "fail-open"}
	}`
	if err := os.WriteFile(filepath.Join(configDir, ConfigFile), []byte(configJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend != BackendEndpoint {
		t.Errorf("expected backend endpoint, got %s", cfg.Backend)
	}
	if cfg.Databricks.Host != "https://dbc.example.com" {
		t.Errorf("unexpected host: %s", cfg.Databricks.Host)
	}
	if cfg.Databricks.Serving.EndpointName != "chat-model" {
		t.Errorf("unexpected endpoint name: %s", cfg.Databricks.Serving.EndpointName)
	}
	if cfg.Relay.RedeliveryPolicy != RedeliveryFailOpen {
		t.Errorf("expected fail-open, got %s", cfg.Relay.RedeliveryPolicy)
	}
	// Values absent from the file keep their defaults.
	if cfg.Relay.DedupeTTL != 10*time.Minute {
		t.Errorf("expected default dedupe TTL, got %v", cfg.Relay.DedupeTTL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BRICKRELAY_HOME", t.TempDir())
	t.Setenv("BRICKRELAY_CONFIG", "")
	t.Setenv("BRICKRELAY_BACKEND", "endpoint")
	t.Setenv("BRICKRELAY_DATABRICKS_HOST", "https://env.example.com")
	t.Setenv("BRICKRELAY_DATABRICKS_GENIE_SPACE_ID", "space-env")
	t.Setenv("BRICKRELAY_RELAY_DEDUPE_TTL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend != BackendEndpoint {
		t.Errorf("expected env backend override, got %s", cfg.Backend)
	}
	if cfg.Databricks.Host != "https://env.example.com" {
		t.Errorf("expected env host override, got %s", cfg.Databricks.Host)
	}
	if cfg.Databricks.Genie.SpaceID != "space-env" {
		t.Errorf("expected env space override, got %s", cfg.Databricks.Genie.SpaceID)
	}
	if cfg.Relay.DedupeTTL != 5*time.Minute {
		t.Errorf("expected env dedupe TTL override, got %v", cfg.Relay.DedupeTTL)
	}
}

func TestLoadPlatformEnvNames(t *testing.T) {
	t.Setenv("BRICKRELAY_HOME", t.TempDir())
	t.Setenv("BRICKRELAY_CONFIG", "")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-direct")
	t.Setenv("SLACK_APP_TOKEN", "xapp-direct")
	t.Setenv("DATABRICKS_HOST", "https://direct.example.com")
	t.Setenv("DATABRICKS_TOKEN", "dapi-direct")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Slack.BotToken != "xoxb-direct" || cfg.Slack.AppToken != "xapp-direct" {
		t.Errorf("expected direct Slack env names honored, got %+v", cfg.Slack)
	}
	if cfg.Databricks.Host != "https://direct.example.com" || cfg.Databricks.Token != "dapi-direct" {
		t.Errorf("expected direct Databricks env names honored, got host=%s", cfg.Databricks.Host)
	}
}

func TestConfigPathExplicit(t *testing.T) {
	t.Setenv("BRICKRELAY_CONFIG", "/etc/brickrelay/config.json")
	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath() error: %v", err)
	}
	if path != "/etc/brickrelay/config.json" {
		t.Errorf("unexpected path: %s", path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("BRICKRELAY_HOME", t.TempDir())
	t.Setenv("BRICKRELAY_CONFIG", "")

	cfg := validConfig()
	cfg.Relay.StatePath = "/var/lib/brickrelay/state.db"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Databricks.Host != cfg.Databricks.Host {
		t.Errorf("host did not round-trip: %s", loaded.Databricks.Host)
	}
	if loaded.Relay.StatePath != cfg.Relay.StatePath {
		t.Errorf("state path did not round-trip: %s", loaded.Relay.StatePath)
	}
}
