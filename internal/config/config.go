// Package config provides configuration types and loading for brickrelay.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Backend selects which Databricks service answers questions.
type Backend string

const (
	// BackendGenie relays questions to a Genie conversational space.
	BackendGenie Backend = "genie"
	// BackendEndpoint relays questions to a model-serving chat endpoint.
	BackendEndpoint Backend = "endpoint"
)

// RedeliveryPolicy controls whether a failed backend call allows the
// transport to retry the same event later.
type RedeliveryPolicy string

const (
	// RedeliveryFailClosed keeps a failed event marked seen; the error reply
	// is sent once and redeliveries are dropped.
	RedeliveryFailClosed RedeliveryPolicy = "fail-closed"
	// RedeliveryFailOpen forgets a failed event id so a redelivery gets a
	// fresh attempt.
	RedeliveryFailOpen RedeliveryPolicy = "fail-open"
)

// Config is the root configuration struct.
// Top-level groups: Backend, Databricks, Slack, Relay, Audit.
type Config struct {
	Backend    Backend          `json:"backend" envconfig:"BACKEND"`
	Databricks DatabricksConfig `json:"databricks"`
	Slack      SlackConfig      `json:"slack"`
	Relay      RelayConfig      `json:"relay"`
	Audit      AuditConfig      `json:"audit"`
}

// DatabricksConfig groups workspace credentials and backend targets.
type DatabricksConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	// Token is a personal access token. When ClientID/ClientSecret are set
	// they take precedence and OAuth M2M is used instead.
	Token        string        `json:"token,omitempty" envconfig:"TOKEN"`
	ClientID     string        `json:"clientId,omitempty" envconfig:"CLIENT_ID"`
	ClientSecret string        `json:"clientSecret,omitempty" envconfig:"CLIENT_SECRET"`
	AskTimeout   time.Duration `json:"askTimeout" envconfig:"ASK_TIMEOUT"`
	Genie        GenieConfig   `json:"genie"`
	Serving      ServingConfig `json:"serving"`
}

// GenieConfig configures the Genie space backend.
type GenieConfig struct {
	SpaceID      string        `json:"spaceId" envconfig:"SPACE_ID"`
	PollInterval time.Duration `json:"pollInterval" envconfig:"POLL_INTERVAL"`
}

// ServingConfig configures the model-serving endpoint backend.
type ServingConfig struct {
	EndpointName string  `json:"endpointName" envconfig:"ENDPOINT_NAME"`
	SystemPrompt string  `json:"systemPrompt,omitempty" envconfig:"SYSTEM_PROMPT"`
	MaxTokens    int     `json:"maxTokens,omitempty" envconfig:"MAX_TOKENS"`
	Temperature  float64 `json:"temperature,omitempty" envconfig:"TEMPERATURE"`
}

// SlackConfig configures the Slack socket-mode channel.
type SlackConfig struct {
	BotToken  string `json:"botToken" envconfig:"BOT_TOKEN"`
	AppToken  string `json:"appToken" envconfig:"APP_TOKEN"`
	BotUserID string `json:"botUserId,omitempty" envconfig:"BOT_USER_ID"`
}

// RelayConfig groups dispatcher behaviour settings.
type RelayConfig struct {
	ConversationTTL  time.Duration    `json:"conversationTTL" envconfig:"CONVERSATION_TTL"`
	DedupeTTL        time.Duration    `json:"dedupeTTL" envconfig:"DEDUPE_TTL"`
	DedupeMaxSize    int              `json:"dedupeMaxSize" envconfig:"DEDUPE_MAX_SIZE"`
	RedeliveryPolicy RedeliveryPolicy `json:"redeliveryPolicy" envconfig:"REDELIVERY_POLICY"`
	// StatePath points at the SQLite state database. Empty means in-memory
	// stores only; dedup state is then lost on restart.
	StatePath string `json:"statePath,omitempty" envconfig:"STATE_PATH"`
}

// AuditConfig configures the optional Kafka exchange mirror.
type AuditConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers,omitempty" envconfig:"BROKERS"`
	Topic   string   `json:"topic,omitempty" envconfig:"TOPIC"`
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendGenie,
		Databricks: DatabricksConfig{
			AskTimeout: 30 * time.Second,
			Genie: GenieConfig{
				PollInterval: 2 * time.Second,
			},
		},
		Relay: RelayConfig{
			ConversationTTL:  24 * time.Hour,
			DedupeTTL:        10 * time.Minute,
			DedupeMaxSize:    10000,
			RedeliveryPolicy: RedeliveryFailClosed,
		},
		Audit: AuditConfig{
			Topic: "brickrelay.exchanges",
		},
	}
}

// Validate checks that every required option is present and consistent.
// It reports all missing keys at once so a fresh deployment can be fixed in
// one pass.
func (c *Config) Validate() error {
	var missing []string

	if strings.TrimSpace(c.Databricks.Host) == "" {
		missing = append(missing, "databricks.host")
	}
	if strings.TrimSpace(c.Databricks.Token) == "" &&
		(strings.TrimSpace(c.Databricks.ClientID) == "" || strings.TrimSpace(c.Databricks.ClientSecret) == "") {
		missing = append(missing, "databricks.token or databricks.clientId+clientSecret")
	}
	if strings.TrimSpace(c.Slack.BotToken) == "" {
		missing = append(missing, "slack.botToken")
	}
	if strings.TrimSpace(c.Slack.AppToken) == "" {
		missing = append(missing, "slack.appToken")
	}

	switch c.Backend {
	case BackendGenie:
		if strings.TrimSpace(c.Databricks.Genie.SpaceID) == "" {
			missing = append(missing, "databricks.genie.spaceId")
		}
	case BackendEndpoint:
		if strings.TrimSpace(c.Databricks.Serving.EndpointName) == "" {
			missing = append(missing, "databricks.serving.endpointName")
		}
	default:
		return fmt.Errorf("config: unknown backend %q (want %q or %q)", c.Backend, BackendGenie, BackendEndpoint)
	}

	switch c.Relay.RedeliveryPolicy {
	case RedeliveryFailClosed, RedeliveryFailOpen:
	default:
		return fmt.Errorf("config: unknown relay.redeliveryPolicy %q", c.Relay.RedeliveryPolicy)
	}

	if c.Audit.Enabled {
		if len(c.Audit.Brokers) == 0 {
			missing = append(missing, "audit.brokers")
		}
		if strings.TrimSpace(c.Audit.Topic) == "" {
			missing = append(missing, "audit.topic")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("config: missing required options: %s", strings.Join(missing, ", "))
	}
	return nil
}
