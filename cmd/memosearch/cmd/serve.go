package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memoindex/memosearch/internal/config"
	"github.com/memoindex/memosearch/internal/logging"
	"github.com/memoindex/memosearch/internal/mcpserver"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve search and ingest over MCP (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout belongs to JSON-RPC from here on; logs go to the rotating
	// file only.
	level := cfg.LogLevel
	if debugMode {
		level = "debug"
	}
	log, cleanup, err := logging.SetupStdio(level)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer cleanup()
	log.Info("serve: starting", "index_base_dir", cfg.IndexBaseDir, "transport", cfg.Transport)

	ctx := cmd.Context()
	core, err := mcpserver.BuildCore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build retrieval core: %w", err)
	}
	defer core.Manager.Close()

	go func() {
		if err := core.Manager.WatchManifest(ctx); err != nil {
			log.Warn("serve: manifest watcher unavailable", "error", err.Error())
		}
	}()

	server := mcpserver.New(core.Registry, core.Manager, core.Pipeline, log)
	return server.Serve(ctx)
}
