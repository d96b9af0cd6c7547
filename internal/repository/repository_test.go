package repository

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chat_web/internal/models"
	"chat_web/internal/storage"
)

// setupTestDB 建立記憶體內的 sqlite 資料庫
func setupTestDB(t *testing.T) *storage.Database {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// :memory: 每條連線各自一份資料庫，固定只用一條
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return storage.Wrap(db)
}

func seedUsers(t *testing.T, repo UserRepository, ids ...string) {
	t.Helper()
	for _, id := range ids {
		user := &models.User{
			ID:        id,
			Email:     id + "@example.com",
			FirstName: "First " + id,
			LastName:  "Last " + id,
			Password:  "hashed",
		}
		if err := repo.Create(context.Background(), user); err != nil {
			t.Fatalf("failed to seed user %s: %v", id, err)
		}
	}
}
