package db

import (
	"path/filepath"
	"testing"
)

func TestInitCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "healthlog.db")

	if err := Init(path); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	defer func() {
		if sqlDB, err := DB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// 父目录不存在时自动创建
	for _, table := range []string{"day_records", "data_points", "data_locks", "manual_entries"} {
		if !DB.Migrator().HasTable(table) {
			t.Fatalf("expected table %s to exist", table)
		}
	}
}
