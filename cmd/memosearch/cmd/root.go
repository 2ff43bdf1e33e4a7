// Package cmd provides the CLI commands for memosearch.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/memoindex/memosearch/internal/config"
	"github.com/memoindex/memosearch/internal/logging"
	"github.com/memoindex/memosearch/pkg/version"
)

var debugMode bool

// NewRootCmd creates the root command for the memosearch CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "memosearch",
		Short:   "Hybrid multi-modal retrieval core for memos and their attachments",
		Version: version.Version,
		// main prints errors through the structured CLI formatter.
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate("memosearch version {{.Version}}\n")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.memosearch/logs/")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRebuildCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newLogsCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfigAndLogger is the shared setup every subcommand performs:
// load Config from MEMO_* env vars, then set up rotating file logging.
func loadConfigAndLogger(logPath string) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.FilePath = logPath
	if debugMode {
		logCfg.Level = "debug"
	} else {
		logCfg.Level = cfg.LogLevel
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("set up logging: %w", err)
	}
	return cfg, logger, cleanup, nil
}
