package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupSnapshot_NoExistingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	backupPath, err := BackupSnapshot(path)

	require.NoError(t, err)
	assert.Empty(t, backupPath)
}

func TestBackupSnapshot_CreatesTimestampedCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, NewConfig().ExportYAML(path))

	backupPath, err := BackupSnapshot(path)

	require.NoError(t, err)
	require.NotEmpty(t, backupPath)
	assert.FileExists(t, backupPath)

	original, err := os.ReadFile(path)
	require.NoError(t, err)
	backed, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, original, backed)
}

func TestListSnapshotBackups_EmptyWhenNoBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	backups, err := ListSnapshotBackups(path)

	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestListSnapshotBackups_SortedNewestFirst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, NewConfig().ExportYAML(path))

	first, err := BackupSnapshot(path)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond) // backup names carry second resolution
	second, err := BackupSnapshot(path)
	require.NoError(t, err)

	backups, err := ListSnapshotBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, second, backups[0])
	assert.Equal(t, first, backups[1])
}

func TestCleanupOldBackups_KeepsOnlyMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, NewConfig().ExportYAML(path))

	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupSnapshot(path)
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)
	}

	backups, err := ListSnapshotBackups(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestoreSnapshot_MissingBackupReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	err := RestoreSnapshot(path, filepath.Join(dir, "nonexistent.bak"))

	assert.Error(t, err)
}

func TestRestoreSnapshot_WritesBackupContentToPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := NewConfig()
	original.MaxTags = 11
	require.NoError(t, original.ExportYAML(path))

	backupPath, err := BackupSnapshot(path)
	require.NoError(t, err)

	modified, err := LoadYAML(path)
	require.NoError(t, err)
	modified.MaxTags = 999
	require.NoError(t, modified.ExportYAML(path))

	require.NoError(t, RestoreSnapshot(path, backupPath))

	restored, err := LoadYAML(path)
	require.NoError(t, err)
	assert.Equal(t, 11, restored.MaxTags)
}
