package db

import (
	"fmt"
	"testing"

	"gorm.io/gorm"

	"github.com/friendsincode/listenparty/internal/config"
	"github.com/friendsincode/listenparty/internal/models"
)

func sqliteConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       ":memory:",
	}
}

func TestConnectAndMigrateSQLite(t *testing.T) {
	database, err := Connect(sqliteConfig())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range append(NotifiedTables, "karma_ledger") {
		if !database.Migrator().HasTable(table) {
			t.Fatalf("expected table %s after migrate", table)
		}
	}

	// Migrations are idempotent.
	if err := Migrate(database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	if err := database.Create(&models.Session{ID: "00000000-0000-0000-0000-000000000001", Name: "x", JoinCode: "ABC123"}).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}
	var count int64
	if err := database.Model(&models.Session{}).Count(&count).Error; err != nil || count != 1 {
		t.Fatalf("count sessions: %d %v", count, err)
	}
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	cfg := sqliteConfig()
	cfg.DBBackend = "oracle"
	if _, err := Connect(cfg); err == nil {
		t.Fatal("expected unknown backend error")
	}
}

func TestErrorKind(t *testing.T) {
	if got := errorKind(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)); got != "duplicate" {
		t.Fatalf("expected duplicate, got %s", got)
	}
	if got := errorKind(gorm.ErrInvalidData); got != "query_error" {
		t.Fatalf("expected query_error, got %s", got)
	}
}
