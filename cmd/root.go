package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "watchpost",
	Short: "Real-time face identity matching and alerting",
	Long: `Watchpost matches face embeddings from cameras against a registry of known
identities and raises alerts when a banned or watchlisted person is recognised.

Identities come from PostgreSQL (pgvector), a legacy MariaDB table, or a YAML
file. Alerts are streamed over SSE and websockets, posted to a webhook, and
kept in a local SQLite history.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(mustGetString(cmd, "log-level"))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// setupLogging applies the flag value, falling back to LOG_LEVEL.
func setupLogging(flagLevel string) {
	level := flagLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		return
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warn("unknown log level, keeping info", "level", level)
		return
	}
	log.SetLevel(parsed)
}
