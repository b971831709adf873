package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	if (User{}).TableName() != "users" {
		t.Fatalf("User.TableName() = %q; want %q", (User{}).TableName(), "users")
	}
	if (Ticket{}).TableName() != "tickets" {
		t.Fatalf("Ticket.TableName() = %q; want %q", (Ticket{}).TableName(), "tickets")
	}
	if (Message{}).TableName() != "messages" {
		t.Fatalf("Message.TableName() = %q; want %q", (Message{}).TableName(), "messages")
	}
}

func TestUserDisplayName(t *testing.T) {
	cases := []struct {
		u    User
		want string
	}{
		{User{FirstName: "Ann", LastName: "Lee", Handle: "ann"}, "Ann Lee (@ann)"},
		{User{FirstName: "Ann"}, "Ann"},
		{User{Handle: "ann"}, "@ann"},
		{User{LastName: "Lee"}, "Lee"},
		{User{}, ""},
	}
	for _, c := range cases {
		if got := c.u.DisplayName(); got != c.want {
			t.Errorf("DisplayName(%+v) = %q; want %q", c.u, got, c.want)
		}
	}
}

func TestMigrations_IndexesAndChecks(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&User{}, &Ticket{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, tbl := range []any{&User{}, &Ticket{}, &Message{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&Ticket{}, "idx_user_tickets") {
		t.Fatalf("expected index idx_user_tickets on tickets")
	}
	if !m.HasIndex(&Message{}, "idx_ticket_msgs") {
		t.Fatalf("expected index idx_ticket_msgs on messages")
	}
	if !m.HasIndex(&Message{}, "idx_outbox") {
		t.Fatalf("expected index idx_outbox on messages")
	}

	now := time.Now().UTC()
	if err := db.Create(&User{ID: 42, Handle: "u", CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
	tk := &Ticket{UserID: 42, Category: "Promoters", Status: StatusOpen, CreatedAt: now, UpdatedAt: now}
	if err := db.Omit("User").Create(tk).Error; err != nil {
		t.Fatalf("insert ticket: %v", err)
	}
	if tk.ID == 0 {
		t.Fatalf("expected autoincrement ticket id")
	}

	// CHECK constraints reject values outside the enums.
	bad := &Ticket{UserID: 42, Category: "Promoters", Status: "pending", CreatedAt: now, UpdatedAt: now}
	if err := db.Omit("User").Create(bad).Error; err == nil {
		t.Fatalf("expected CHECK violation for status=pending")
	}
	badMsg := &Message{TicketID: tk.ID, Direction: "sideways", Sender: "x", Text: "x", CreatedAt: now}
	if err := db.Omit("Ticket").Create(badMsg).Error; err == nil {
		t.Fatalf("expected CHECK violation for direction=sideways")
	}

	// FK: a message must reference an existing ticket.
	orphan := &Message{TicketID: 999, Direction: Inbound, Sender: "42", Text: "x", CreatedAt: now}
	if err := db.Omit("Ticket").Create(orphan).Error; err == nil {
		t.Fatalf("expected FK violation for orphan message")
	}
}
