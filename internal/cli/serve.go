package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BrickRelay/BrickRelay/internal/audit"
	"github.com/BrickRelay/BrickRelay/internal/bus"
	"github.com/BrickRelay/BrickRelay/internal/channels"
	"github.com/BrickRelay/BrickRelay/internal/config"
	"github.com/BrickRelay/BrickRelay/internal/conversation"
	"github.com/BrickRelay/BrickRelay/internal/databricks"
	"github.com/BrickRelay/BrickRelay/internal/dedupe"
	"github.com/BrickRelay/BrickRelay/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Slack relay",
	Run:   runServe,
}

var serveSignalNotify = signal.Notify

func runServe(cmd *cobra.Command, args []string) {
	printHeader("🧱 BrickRelay Serve")
	fmt.Println("Starting BrickRelay...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Config invalid: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := dedupe.New(cfg.Relay.DedupeTTL, cfg.Relay.DedupeMaxSize)
	defer seen.Close()

	store, processed, err := buildStore(cfg)
	if err != nil {
		fmt.Printf("State store error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	client, err := buildClient(cfg)
	if err != nil {
		fmt.Printf("Backend error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backend: %s\n", client.Name())

	dispatcher := relay.NewDispatcher(seen, store, processed, client, cfg.Relay.RedeliveryPolicy, cfg.Databricks.AskTimeout)

	var recorder relay.Recorder
	if cfg.Audit.Enabled {
		rec := audit.NewRecorder(cfg.Audit.Brokers, cfg.Audit.Topic)
		defer rec.Close()
		recorder = rec
		fmt.Printf("Audit mirror: %s\n", cfg.Audit.Topic)
	}

	msgBus := bus.NewMessageBus()
	slackChannel := channels.NewSlackChannel(cfg.Slack, msgBus)
	if err := slackChannel.Start(ctx); err != nil {
		fmt.Printf("Slack channel error: %v\n", err)
		os.Exit(1)
	}
	go msgBus.DispatchOutbound(ctx)

	r := relay.New(relay.Options{
		Bus:             msgBus,
		Dispatcher:      dispatcher,
		Store:           store,
		Recorder:        recorder,
		ConversationTTL: cfg.Relay.ConversationTTL,
		DedupeTTL:       cfg.Relay.DedupeTTL,
	})
	go r.Run(ctx)

	fmt.Println("BrickRelay is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	serveSignalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	cancel()
	_ = slackChannel.Stop()
}

// buildStore selects in-memory or SQLite-backed conversation state. Only the
// SQLite store remembers processed events across restarts.
func buildStore(cfg *config.Config) (conversation.Store, relay.ProcessedLog, error) {
	if cfg.Relay.StatePath == "" {
		return conversation.NewMemoryStore(), nil, nil
	}
	st, err := conversation.NewSQLiteStore(cfg.Relay.StatePath)
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

func buildClient(cfg *config.Config) (databricks.Client, error) {
	auth, err := buildAuth(cfg.Databricks)
	if err != nil {
		return nil, err
	}
	db := cfg.Databricks
	switch cfg.Backend {
	case config.BackendGenie:
		return databricks.NewGenieClient(db.Host, db.Genie.SpaceID, auth, db.Genie.PollInterval), nil
	case config.BackendEndpoint:
		return databricks.NewServingClient(db.Host, db.Serving.EndpointName, db.Serving.SystemPrompt, db.Serving.MaxTokens, db.Serving.Temperature, auth), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func buildAuth(cfg config.DatabricksConfig) (databricks.AuthProvider, error) {
	if cfg.Token != "" {
		return databricks.NewStaticToken(cfg.Token), nil
	}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		return databricks.NewOAuthM2M(cfg.Host, cfg.ClientID, cfg.ClientSecret, nil), nil
	}
	return nil, fmt.Errorf("no Databricks credentials: set a token or an OAuth client id/secret")
}
