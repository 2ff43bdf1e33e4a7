package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)

	logger.Info("upsert complete", slog.String("memo_uid", "memos/A"))
	cleanup()

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "upsert complete", entry["msg"])
	assert.Equal(t, "memos/A", entry["memo_uid"])
}

func TestSetup_RespectsLevel(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Level = "warn"
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	cleanup()

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestSetupStdio_LogsOnlyToFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	logger, cleanup, err := SetupStdio("debug")
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, logger)
	assert.Same(t, logger, slog.Default())

	// The initialization line must land in the file.
	data, err := os.ReadFile(DefaultLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "stdio logging initialized")
}

func TestRotatingWriter_RotatesAtMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Two writes that together cross the 1MB threshold.
	big := make([]byte, 600*1024)
	for i := range big {
		big[i] = 'x'
	}
	_, err = w.Write(big)
	require.NoError(t, err)
	_, err = w.Write(big)
	require.NoError(t, err)

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated file should exist")
}

func TestRotatingWriter_BoundsRotatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	big := make([]byte, 700*1024)
	for i := 0; i < 6; i++ {
		_, err = w.Write(big)
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2)
}

func writeLogLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func logLine(ts time.Time, level, msg string, extra map[string]any) string {
	m := map[string]any{
		"time":  ts.Format(time.RFC3339Nano),
		"level": level,
		"msg":   msg,
	}
	for k, v := range extra {
		m[k] = v
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func TestViewer_ParseLine(t *testing.T) {
	v := NewViewer(ViewerConfig{}, os.Stdout)

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entry := v.parseLine(logLine(ts, "INFO", "search", map[string]any{"strategy": "rrf"}))

	assert.True(t, entry.IsValid)
	assert.Equal(t, "search", entry.Msg)
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, ts, entry.Time.UTC())
	assert.Equal(t, "rrf", entry.Attrs["strategy"])
}

func TestViewer_ParseLine_Invalid(t *testing.T) {
	v := NewViewer(ViewerConfig{}, os.Stdout)
	entry := v.parseLine("not json at all")
	assert.False(t, entry.IsValid)
	assert.Equal(t, "not json at all", entry.Raw)
}

func TestViewer_LevelFilter(t *testing.T) {
	v := NewViewer(ViewerConfig{Level: "warn"}, os.Stdout)
	assert.False(t, v.matchesFilter(LogEntry{Level: "INFO", IsValid: true}))
	assert.True(t, v.matchesFilter(LogEntry{Level: "ERROR", IsValid: true}))
}

func TestViewer_PatternFilter(t *testing.T) {
	v := NewViewer(ViewerConfig{Pattern: regexp.MustCompile(`memos/A`)}, os.Stdout)
	assert.True(t, v.matchesFilter(LogEntry{Raw: `{"msg":"upsert memos/A"}`}))
	assert.False(t, v.matchesFilter(LogEntry{Raw: `{"msg":"upsert memos/B"}`}))
}

func TestViewer_Tail_MergesByTimestamp(t *testing.T) {
	dir := t.TempDir()
	serverLog := filepath.Join(dir, "server.log")
	ingestLog := filepath.Join(dir, "ingest.log")

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	writeLogLines(t, serverLog,
		logLine(base, "INFO", "first", nil),
		logLine(base.Add(2*time.Second), "INFO", "third", nil),
	)
	writeLogLines(t, ingestLog,
		logLine(base.Add(time.Second), "INFO", "second", nil),
	)

	v := NewViewer(ViewerConfig{}, os.Stdout)
	entries, err := v.Tail([]string{serverLog, ingestLog}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "first", entries[0].Msg)
	assert.Equal(t, "second", entries[1].Msg)
	assert.Equal(t, "third", entries[2].Msg)

	// Source labels come from the filenames.
	assert.Equal(t, "server", entries[0].Source)
	assert.Equal(t, "ingest", entries[1].Source)
}

func TestViewer_Tail_LimitsToN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	base := time.Now().UTC()
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, logLine(base.Add(time.Duration(i)*time.Second), "INFO", fmt.Sprintf("m%d", i), nil))
	}
	writeLogLines(t, path, lines...)

	v := NewViewer(ViewerConfig{}, os.Stdout)
	entries, err := v.Tail([]string{path}, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "m7", entries[0].Msg)
	assert.Equal(t, "m9", entries[2].Msg)
}

func TestViewer_Tail_SkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")
	writeLogLines(t, path, logLine(time.Now(), "INFO", "present", nil))

	v := NewViewer(ViewerConfig{}, os.Stdout)
	entries, err := v.Tail([]string{path, filepath.Join(dir, "missing.log")}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestViewer_Follow_SeesNewLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")
	writeLogLines(t, path, logLine(time.Now(), "INFO", "old", nil))

	v := NewViewer(ViewerConfig{}, os.Stdout)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	entries := make(chan LogEntry, 10)
	go func() { _ = v.Follow(ctx, []string{path}, entries) }()

	// Give the follower time to seek to end, then append.
	time.Sleep(300 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(logLine(time.Now(), "INFO", "fresh", nil) + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case e := <-entries:
		assert.Equal(t, "fresh", e.Msg)
	case <-ctx.Done():
		t.Fatal("follower never delivered the appended entry")
	}
}

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true, ShowSource: true}, os.Stdout)

	entry := LogEntry{
		Time:    time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC),
		Level:   "INFO",
		Msg:     "query served",
		Source:  "server",
		Attrs:   map[string]interface{}{"strategy": "bm25"},
		IsValid: true,
	}
	out := v.FormatEntry(entry)
	assert.Contains(t, out, "09:30:00.000")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "[server]")
	assert.Contains(t, out, "query served")
	assert.Contains(t, out, "strategy=bm25")
}

func TestParseLogSource(t *testing.T) {
	assert.Equal(t, LogSourceIngest, ParseLogSource("ingest"))
	assert.Equal(t, LogSourceAll, ParseLogSource("all"))
	assert.Equal(t, LogSourceServer, ParseLogSource("server"))
	assert.Equal(t, LogSourceServer, ParseLogSource("anything-else"))
}

func TestSourceForPath(t *testing.T) {
	assert.Equal(t, "server", SourceForPath("/x/logs/server.log"))
	assert.Equal(t, "ingest", SourceForPath("/x/logs/ingest.log"))
	assert.Equal(t, "unknown", SourceForPath("/x/logs/other.log"))
}

func TestFindLogFiles_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.log")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	paths, err := FindLogFiles(LogSourceServer, path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)

	_, err = FindLogFiles(LogSourceServer, filepath.Join(dir, "nope.log"))
	assert.Error(t, err)
}

func TestFindLogFiles_BySource(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, EnsureLogDir())

	require.NoError(t, os.WriteFile(DefaultLogPath(), []byte("x\n"), 0o644))
	require.NoError(t, os.WriteFile(IngestLogPath(), []byte("x\n"), 0o644))

	paths, err := FindLogFiles(LogSourceAll, "")
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	paths, err = FindLogFiles(LogSourceIngest, "")
	require.NoError(t, err)
	assert.Equal(t, []string{IngestLogPath()}, paths)
}

func TestFindLogFiles_NoneFound(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := FindLogFiles(LogSourceServer, "")
	assert.Error(t, err)
}
