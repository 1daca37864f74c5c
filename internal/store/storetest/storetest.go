// Package storetest opens throwaway sqlite stores for tests.
package storetest

import (
	"testing"

	"github.com/friendsincode/listenparty/internal/db"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns a migrated in-memory sqlite database closed at test end.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

// New returns a store wired to an in-process change feed.
func New(t testing.TB) (*store.Store, *store.MemoryFeed) {
	t.Helper()
	feed := store.NewMemoryFeed()
	t.Cleanup(func() { _ = feed.Close() })
	return store.New(OpenDB(t), feed, zerolog.Nop()), feed
}
