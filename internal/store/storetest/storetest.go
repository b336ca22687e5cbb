// Package storetest opens throwaway SQLite-backed stores for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"campus_market/internal/db"
	"campus_market/internal/store"
)

// New 在 t.TempDir() 下建一个已迁移的 SQLite 库，测试结束自动关闭。
func New(tb testing.TB) *store.Store {
	tb.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(tb.TempDir(), "test.db"), nil)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.New(gdb)
}
