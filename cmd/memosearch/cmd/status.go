package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memoindex/memosearch/internal/logging"
	"github.com/memoindex/memosearch/internal/mcpserver"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report index totals and BM25 readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print status as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	cfg, log, cleanup, err := loadConfigAndLogger(logging.DefaultLogPath())
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

	status, err := core.Manager.Status(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(enc))
		return nil
	}

	fmt.Printf("memos:          %d\n", status.TotalMemos)
	fmt.Printf("text vectors:   %d (%s)\n", status.TotalTextVectors, status.TextCollection)
	fmt.Printf("image vectors:  %d (%s)\n", status.TotalImageVectors, status.ImageCollection)
	fmt.Printf("bm25 ready:     %t\n", status.BM25Ready)
	fmt.Printf("base dir:       %s\n", status.BaseDir)
	return nil
}
