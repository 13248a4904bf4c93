// Package cli implements the sarah CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/johnlen7/teacher-sarah/internal/config"
	"github.com/johnlen7/teacher-sarah/internal/logger"
	"github.com/johnlen7/teacher-sarah/internal/store"
)

var (
	dataDirFlag   string
	logLevelFlag  string
	logFormatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "sarah",
	Short: "Conversational English tutoring bot core",
	Long: "Per-conversation message pipeline for an English tutoring bot: " +
		"ordered asynchronous processing, durable per-chat history and recall context.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dataDirFlag, "data-dir", "d", "", "Data directory (default: $SARAH_DATA_DIR or data/chats)")
	RootCmd.PersistentFlags().String("log-level", "", "Log level (default: $SARAH_LOG_LEVEL or info)")
	RootCmd.PersistentFlags().String("log-format", "", "Log format: console or json (default: $SARAH_LOG_FORMAT or console)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	return logger.New(cfg.LogLevel, cfg.LogFormat)
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	topics, err := cfg.Topics()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.DataDir, topics)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
