// wschat - terminal client for the AI chat server
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/wschat/internal/config"
)

var (
	serverURL string
	backend   string
	logLevel  string
	quietLogs bool
	loadedCfg *config.Config
)

// rootCmd runs the interactive chat.
var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Chat with the AI server over a resilient WebSocket session",
	Long: `Connects to the chat server, restores cached history and reads messages
from standard input. Lines starting with / are commands (/help lists them).

The connection reconnects with exponential backoff and the message cache is
persisted locally between runs.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Chat server origin (or set CHAT_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&backend, "storage", "", "Storage backend: sqlite, pebble or memory (or set CHAT_STORAGE_BACKEND)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (or set CHAT_LOG_LEVEL)")
	rootCmd.Flags().BoolVarP(&quietLogs, "quiet", "q", false, "Hide server log lines (still available via /logs)")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write the export to this file instead of stdout")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(clearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads .env and the environment, applies flag overrides and
// installs the default logger.
func loadConfig(_ *cobra.Command, _ []string) error {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)
	if envErr != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	loadedCfg = cfg
	return nil
}

func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
