package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rsvp/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformBackup(t *testing.T) {
	logger := zerolog.New(io.Discard)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "rsvp.db")

	s, err := New(dbPath, time.Second, &logger)
	require.NoError(t, err)
	reserve(t, s, "alice", "room-1", testWindow(10, 11))
	require.NoError(t, s.Close())

	backupDir := filepath.Join(dir, "backups")
	svc := NewBackupService(dbPath, config.BackupConfig{
		Enabled:     true,
		StoragePath: backupDir,
	}, &logger)

	require.NoError(t, svc.PerformBackup())

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// Копия должна открываться как обычная база.
	restored, err := New(filepath.Join(backupDir, entries[0].Name()), time.Second, &logger)
	require.NoError(t, err)
	defer restored.Close()

	rows, err := restored.Query(context.Background(), ReservationQuery{ResourceID: "room-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCleanupOldBackups(t *testing.T) {
	logger := zerolog.New(io.Discard)
	backupDir := t.TempDir()

	stale := filepath.Join(backupDir, "backup_20200101_000000.db")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	old := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(backupDir, "backup_fresh.db")
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o644))

	unrelated := filepath.Join(backupDir, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o644))

	svc := NewBackupService("unused.db", config.BackupConfig{
		StoragePath:   backupDir,
		RetentionDays: 7,
	}, &logger)
	svc.CleanupOldBackups()

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, unrelated)
}
