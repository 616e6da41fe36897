package dbtest

import (
	"testing"

	"offerledger/internal/config"
	"offerledger/internal/infrastructure/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Open 为单个测试创建独立的 sqlite 内存库并完成迁移
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
