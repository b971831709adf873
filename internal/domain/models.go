// Package domain defines the persistence models for users, tickets, and
// messages. These types are mapped with GORM and shared by the bot and the
// dashboard processes, which coordinate only through the database.
package domain

import "time"

// TicketStatus is the lifecycle state of a ticket. Closing is terminal.
type TicketStatus string

const (
	StatusOpen   TicketStatus = "open"
	StatusClosed TicketStatus = "closed"
)

// Direction tells who originated a message.
type Direction string

const (
	// Inbound messages come from the Telegram user.
	Inbound Direction = "inbound"
	// Outbound messages are operator replies waiting for (or past) delivery.
	Outbound Direction = "outbound"
)

// DeliveryStatus tracks the transport state of an outbound message. It is
// independent of the ticket status.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// OperatorSender is the sender marker stored on outbound messages when no
// operator name is known.
const OperatorSender = "operator"

// User is a Telegram account that contacted the bot.
//
// Fields:
//   - ID: Telegram user id (also the private chat id used for replies).
//   - Handle / FirstName / LastName: display fields, refreshed on contact.
//   - SelectedCategory: category the user picked from the bot keyboard;
//     empty when no support chat is active.
type User struct {
	ID               int64     `json:"id"                gorm:"primaryKey;autoIncrement:false"`
	Handle           string    `json:"handle"            gorm:"type:varchar(64);not null;default:''"`
	FirstName        string    `json:"first_name"        gorm:"type:varchar(128);not null;default:''"`
	LastName         string    `json:"last_name"         gorm:"type:varchar(128);not null;default:''"`
	SelectedCategory string    `json:"selected_category" gorm:"type:varchar(32);not null;default:''"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// DisplayName returns "First Last (@handle)" with the empty parts dropped.
func (u User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if u.Handle != "" {
		if name != "" {
			return name + " (@" + u.Handle + ")"
		}
		return "@" + u.Handle
	}
	return name
}

// Ticket is one conversation thread for a (user, category) pair.
//
// At most one open ticket may exist per (user_id, category); the partial
// unique index ux_tickets_open_user_category is created by AutoMigrate in
// the repo package because GORM tags cannot express the WHERE clause.
//
// UpdatedAt is the time of the last message and drives dashboard ordering.
type Ticket struct {
	ID           int64        `json:"id"            gorm:"primaryKey;autoIncrement"`
	UserID       int64        `json:"user_id"       gorm:"not null;index:idx_user_tickets"`
	Category     string       `json:"category"      gorm:"type:varchar(32);not null"`
	Status       TicketStatus `json:"status"        gorm:"type:varchar(16);not null;index:idx_ticket_activity,priority:1;check:status IN ('open','closed')"`
	WalletMeta   string       `json:"wallet_meta,omitempty" gorm:"type:varchar(255);not null;default:''"`
	LastPreview  string       `json:"last_message_preview"  gorm:"type:varchar(512);not null;default:''"`
	MessageCount int          `json:"message_count" gorm:"not null;default:0"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"    gorm:"autoUpdateTime:false;index:idx_ticket_activity,priority:2"`
	ClosedAt     *time.Time   `json:"closed_at"`

	// User is the ticket owner.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Ticket.
func (Ticket) TableName() string { return "tickets" }

// IsOpen reports whether the ticket still accepts operator replies.
func (t Ticket) IsOpen() bool { return t.Status == StatusOpen }

// Message is a single line of conversation within a ticket.
//
// History is ordered by (CreatedAt, ID); ID is autoincrement so equal
// timestamps fall back to insertion order.
type Message struct {
	ID               int64          `json:"id"               gorm:"primaryKey;autoIncrement"`
	TicketID         int64          `json:"ticket_id"        gorm:"not null;index:idx_ticket_msgs,priority:1"`
	Direction        Direction      `json:"direction"        gorm:"type:varchar(16);not null;index:idx_outbox,priority:1;check:direction IN ('inbound','outbound')"`
	Sender           string         `json:"sender"           gorm:"type:varchar(64);not null"`
	Text             string         `json:"text"             gorm:"type:text;not null"`
	DeliveryStatus   DeliveryStatus `json:"delivery_status,omitempty" gorm:"type:varchar(16);not null;default:'';index:idx_outbox,priority:2"`
	DeliveryAttempts int            `json:"delivery_attempts,omitempty" gorm:"not null;default:0"`
	DeliveryError    string         `json:"delivery_error,omitempty"    gorm:"type:text;not null;default:''"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	// NextAttemptAt holds a failed reply back from the outbox until it is due.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty" gorm:"index"`
	CreatedAt        time.Time      `json:"created_at"       gorm:"index:idx_ticket_msgs,priority:2;index:idx_outbox,priority:3"`

	// Ticket is the owning thread. Preloaded by the delivery poller.
	Ticket Ticket `json:"-" gorm:"foreignKey:TicketID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
