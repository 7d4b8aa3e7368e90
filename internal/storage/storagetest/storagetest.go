// Package storagetest opens throwaway sqlite stores for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
)

// Open returns a migrated sqlite store in t.TempDir(), closed on cleanup.
func Open(t testing.TB) *storage.Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := storage.Open(ctx, storage.Config{
		Driver:      storage.DriverSQLite,
		Path:        filepath.Join(t.TempDir(), "bot.db"),
		BusyTimeout: 5 * time.Second,
		AutoMigrate: true,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}
