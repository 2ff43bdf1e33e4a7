package logging

import (
	"log/slog"
)

// SetupStdio initializes logging for the MCP stdio transport and installs
// the logger as slog.Default. stdout carries JSON-RPC exclusively while
// the transport is up, so log output goes only to the rotating file --
// never to stdout, and not to stderr either, which some MCP clients also
// capture and surface as connection noise.
func SetupStdio(level string) (*slog.Logger, func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, nil, err
	}

	slog.SetDefault(logger)
	logger.Info("stdio logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))
	return logger, cleanup, nil
}
