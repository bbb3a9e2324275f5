// Command qb is the question bot operator CLI. It checks the environment and
// Slack scopes, exercises channel resolution against the live workspace, and
// reads or acts on stored questions.
//
// qb reads the same environment (and .env file) as the questionbot service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/Vortex-9191/slack-question-bot/internal/config"
	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

var (
	envFile string
	dbPath  string
	output  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "qb <command>",
	Short: "Question bot diagnostics and operator CLI",
	Long: `qb inspects the question bot's configuration, probes the Slack workspace
the bot token belongs to, and reads or updates the question database.

Slack commands use SLACK_BOT_TOKEN; database commands use DATABASE_PATH
unless --db is given.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch output {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("invalid output format %q (want table, json or yaml)", output)
		}
		cfg = config.Load(envFile)
		if dbPath != "" {
			cfg.DatabasePath = dbPath
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: $DATABASE_PATH)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")

	rootCmd.AddGroup(
		&cobra.Group{ID: "diag", Title: "Diagnostics:"},
		&cobra.Group{ID: "data", Title: "Questions:"},
	)
}

// slackClient returns a Web API client for the configured bot token.
func slackClient() *slack.Client {
	if cfg.BotToken == "" {
		fatalf("SLACK_BOT_TOKEN is not set")
	}
	return slack.New(cfg.BotToken)
}

// openStore opens the question database; callers close it.
func openStore(ctx context.Context) *store.Store {
	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		fatalf("open %s: %v", cfg.DatabasePath, err)
	}
	return st
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
