// Package logging provides rotating file logging for memosearch, plus
// the viewer behind the logs subcommand. CLI subcommands tee structured
// JSON logs to ~/.memosearch/logs/ and stderr; the MCP stdio server logs
// to the file only, since clients own the stdio streams. The --debug
// flag raises the level to debug for troubleshooting.
package logging
