// Command memosearch is the process entrypoint for the memo hybrid
// retrieval core: it serves search/ingest over MCP (stdio) and exposes
// rebuild/status as CLI subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/memoindex/memosearch/cmd/memosearch/cmd"
	memoerrors "github.com/memoindex/memosearch/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, memoerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
