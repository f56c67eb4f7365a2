package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/BrickRelay/BrickRelay/internal/cli.version=1.2.3"
	version = "0.4.1"
	logo    = "\n" +
		"  ____       _      _    ____      _\n" +
		" | __ ) _ __(_) ___| | _|  _ \\ ___| | __ _ _   _\n" +
		" |  _ \\| '__| |/ __| |/ / |_) / _ \\ |/ _` | | | |\n" +
		" | |_) | |  | | (__|   <|  _ <  __/ | (_| | |_| |\n" +
		" |____/|_|  |_|\\___|_|\\_\\_| \\_\\___|_|\\__,_|\\__, |\n" +
		"                                           |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "brickrelay",
	Short: "BrickRelay - Slack to Databricks relay bot",
	Long:  color.CyanString(logo) + "\nA Slack bot that relays questions to Databricks Genie or model serving endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}
