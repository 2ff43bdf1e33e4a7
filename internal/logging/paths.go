package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultLogDir returns the default log directory (~/.memosearch/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".memosearch", "logs")
	}
	return filepath.Join(home, ".memosearch", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// IngestLogPath returns the log path for rebuild/ingest runs, kept separate
// from the serve log so a long rebuild doesn't interleave with query traffic.
func IngestLogPath() string {
	return filepath.Join(DefaultLogDir(), "ingest.log")
}

// LogSource selects which log files to view.
type LogSource string

const (
	// LogSourceServer is the MCP/search server logs (default).
	LogSourceServer LogSource = "server"
	// LogSourceIngest is the rebuild/ingest pipeline logs.
	LogSourceIngest LogSource = "ingest"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFiles resolves a log source (or explicit path) to the log files
// that actually exist on disk.
func FindLogFiles(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var candidates []string
	switch source {
	case LogSourceServer:
		candidates = []string{DefaultLogPath()}
	case LogSourceIngest:
		candidates = []string{IngestLogPath()}
	case LogSourceAll:
		candidates = []string{DefaultLogPath(), IngestLogPath()}
	default:
		return nil, fmt.Errorf("unknown log source: %s (use: server, ingest, all)", source)
	}

	var paths []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, candidates, logHint(source))
	}
	return paths, nil
}

// ParseLogSource parses a string into a LogSource, defaulting to server.
func ParseLogSource(s string) LogSource {
	switch s {
	case "ingest":
		return LogSourceIngest
	case "all":
		return LogSourceAll
	default:
		return LogSourceServer
	}
}

// SourceForPath labels a log file path with its source, by filename.
func SourceForPath(path string) string {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "ingest"):
		return "ingest"
	case strings.HasPrefix(base, "server"):
		return "server"
	default:
		return "unknown"
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}

func logHint(source LogSource) string {
	switch source {
	case LogSourceServer:
		return "To generate server logs:\n  memosearch --debug serve"
	case LogSourceIngest:
		return "To generate ingest logs:\n  memosearch --debug rebuild <creator>"
	case LogSourceAll:
		return "To generate logs:\n  memosearch --debug serve\n  memosearch --debug rebuild <creator>"
	default:
		return ""
	}
}
