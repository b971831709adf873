package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-desk/internal/config"
	"github.com/tbourn/go-support-desk/internal/domain"
)

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "app.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}
	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpenSQLite_SetsPragmas_Pool_AndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "support.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var (
		journalMode string
		syncVal     int
		fkOn        int
		busyMS      int
	)
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if err := db.Raw("PRAGMA synchronous;").Row().Scan(&syncVal); err != nil {
		t.Fatalf("PRAGMA synchronous: %v", err)
	}
	// NORMAL == 1
	if syncVal != 1 {
		t.Fatalf("expected synchronous=1 (NORMAL), got %d", syncVal)
	}
	if err := db.Raw("PRAGMA foreign_keys;").Row().Scan(&fkOn); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fkOn != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", fkOn)
	}
	if err := db.Raw("PRAGMA busy_timeout;").Row().Scan(&busyMS); err != nil {
		t.Fatalf("PRAGMA busy_timeout: %v", err)
	}
	if busyMS != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d", busyMS)
	}

	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	// Running it twice must be harmless.
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate (second run): %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&domain.User{}, &domain.Ticket{}, &domain.Message{}, &domain.Idempotency{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&domain.Ticket{}, "ux_tickets_open_user_category") {
		t.Fatalf("expected partial unique index on open tickets")
	}
}

func TestOpen_DriverSelection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.db")
	db, err := Open(config.DBConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	if err := Close(db); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := Open(config.DBConfig{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(config.DBConfig{Driver: "postgres"}); err == nil {
		t.Fatalf("expected error for empty postgres DSN")
	}
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil) = %v", err)
	}
}

func TestSQLiteDSN(t *testing.T) {
	got := sqliteDSN("/tmp/a.db")
	if !strings.HasPrefix(got, "/tmp/a.db?_pragma=busy_timeout(5000)&") {
		t.Fatalf("unexpected dsn %q", got)
	}
	got = sqliteDSN("file:x?mode=memory&cache=shared")
	if !strings.HasPrefix(got, "file:x?mode=memory&cache=shared&_pragma=") {
		t.Fatalf("unexpected dsn %q", got)
	}
	if strings.Count(got, "_pragma=") != len(sqlitePragmas) {
		t.Fatalf("expected %d pragmas in %q", len(sqlitePragmas), got)
	}
}

// newRepoDB opens a migrated file-backed database for one test.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// seedUserTicket inserts a user and one open ticket and returns the ticket.
func seedUserTicket(t *testing.T, db *gorm.DB, userID int64, category string, at time.Time) *domain.Ticket {
	t.Helper()
	if err := db.Create(&domain.User{ID: userID, Handle: "h"}).Error; err != nil && !IsDuplicate(err) {
		t.Fatalf("seed user: %v", err)
	}
	tk := &domain.Ticket{UserID: userID, Category: category, Status: domain.StatusOpen, CreatedAt: at, UpdatedAt: at}
	if err := CreateTicket(context.Background(), db, tk); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	return tk
}

// Compile-time guard to ensure signature stability.
var _ func(string) (*gorm.DB, error) = OpenSQLite
