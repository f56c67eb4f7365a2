package cli

import (
	"fmt"
	"os"

	"github.com/BrickRelay/BrickRelay/internal/config"
	"github.com/BrickRelay/BrickRelay/internal/conversation"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ BrickRelay Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 BrickRelay Status")
		fmt.Printf("Version: %s\n", version)

		configPath, _ := config.ConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Println("Config:  ✓ Found (" + configPath + ")")
		} else {
			fmt.Println("Config:  ✗ Not found (run 'brickrelay config init' first)")
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Println("Config:  ? Unable to load config")
			return
		}

		fmt.Printf("Backend: %s\n", cfg.Backend)
		if cfg.Slack.BotToken != "" && cfg.Slack.AppToken != "" {
			fmt.Println("Slack:   ✓ Tokens configured")
		} else {
			fmt.Println("Slack:   ✗ Missing bot or app token")
		}
		switch {
		case cfg.Databricks.Token != "":
			fmt.Println("Databricks: ✓ Personal access token")
		case cfg.Databricks.ClientID != "" && cfg.Databricks.ClientSecret != "":
			fmt.Println("Databricks: ✓ OAuth service principal")
		default:
			fmt.Println("Databricks: ✗ No credentials")
		}
		if cfg.Relay.StatePath != "" {
			fmt.Println("State:   ✓ SQLite (" + cfg.Relay.StatePath + ")")
			if store, err := conversation.NewSQLiteStore(cfg.Relay.StatePath); err == nil {
				if n, err := store.Len(); err == nil {
					fmt.Printf("Threads: %d tracked\n", n)
				}
				store.Close()
			}
		} else {
			fmt.Println("State:   ○ In-memory (lost on restart)")
		}
		if cfg.Audit.Enabled {
			fmt.Printf("Audit:   ✓ Kafka topic %s\n", cfg.Audit.Topic)
		}
	},
}
