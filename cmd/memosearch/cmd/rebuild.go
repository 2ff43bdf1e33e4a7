package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memoindex/memosearch/internal/index"
	"github.com/memoindex/memosearch/internal/logging"
	"github.com/memoindex/memosearch/internal/mcpserver"
)

func newRebuildCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "rebuild <creator>",
		Short: "Reindex every memo for a creator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(cmd, args[0], wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the rebuild finishes, printing progress")
	return cmd
}

func runRebuild(cmd *cobra.Command, creator string, wait bool) error {
	cfg, log, cleanup, err := loadConfigAndLogger(logging.IngestLogPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	core, err := mcpserver.BuildCore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build retrieval core: %w", err)
	}
	defer core.Manager.Close()

	if err := core.Pipeline.RebuildCreator(ctx, creator); err != nil {
		return err
	}
	fmt.Printf("rebuild started for %s\n", creator)

	if !wait {
		return nil
	}
	return pollRebuild(cmd, core, creator)
}

func pollRebuild(cmd *cobra.Command, core *mcpserver.Core, creator string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
			status, ok := core.Pipeline.RebuildStatus(creator)
			if !ok {
				continue
			}
			fmt.Printf("\r%s: %d/%d processed, %d failed", status.State, status.MemosProcessed, status.MemosTotal, status.MemosFailed)
			if status.State == index.RebuildCompleted || status.State == index.RebuildFailed {
				fmt.Println()
				if status.Error != "" {
					return fmt.Errorf("rebuild failed: %s", status.Error)
				}
				return nil
			}
		}
	}
}
