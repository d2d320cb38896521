// Package domain defines the persistence models for the notification and
// chat relay: users (resolved for delivery), notifications, chat messages,
// hidden-conversation relations and push tokens. These types are mapped with
// GORM and form the Durable Store schema.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// User is the subset of the shop's user record the relay needs to resolve a
// notification recipient. Accounts are owned by the auth subsystem; the relay
// only reads them.
//
// Fields:
//   - ID: stable identity key (also the realtime identity).
//   - Username / Email: secondary lookup keys for delivery.
//   - Name: display name.
//   - Admin: operator flag.
type User struct {
	ID        string    `json:"id"        gorm:"type:varchar(64);primaryKey"`
	Username  string    `json:"username"  gorm:"type:varchar(64);index"`
	Email     string    `json:"email"     gorm:"type:varchar(255);index"`
	Name      string    `json:"name"      gorm:"type:varchar(255)"`
	Admin     bool      `json:"admin"     gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// DisplayName returns the best human-readable label for the user.
func (u User) DisplayName() string {
	switch {
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	case u.Name != "":
		return u.Name
	}
	return u.ID
}

// Notification is the durable record of an event directed at one user. Once
// created only the Read flag changes.
type Notification struct {
	ID        string            `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string            `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_notifications,priority:1"`
	Username  string            `json:"username"   gorm:"type:varchar(255)"`
	Title     string            `json:"title"      gorm:"type:varchar(255);not null"`
	Message   string            `json:"message"    gorm:"type:text;not null"`
	Type      string            `json:"type"       gorm:"type:varchar(32);not null;default:'default'"`
	Data      datatypes.JSONMap `json:"data"`
	Read      bool              `json:"read"       gorm:"not null;default:false;index"`
	CreatedAt time.Time         `json:"created_at" gorm:"index:idx_user_notifications,priority:2"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// Message is one chat turn between two identities. One side is usually the
// reserved admin identity. The body is immutable; Hidden only affects history
// retrieval.
type Message struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	Sender    string    `json:"sender"    gorm:"type:varchar(64);not null;index:idx_msg_pair,priority:1"`
	Receiver  string    `json:"receiver"  gorm:"type:varchar(64);not null;index:idx_msg_pair,priority:2"`
	Body      string    `json:"message"   gorm:"type:text;not null"`
	Hidden    bool      `json:"hidden"    gorm:"not null;default:false"`
	Timestamp time.Time `json:"timestamp" gorm:"column:sent_at;not null;index:idx_msg_pair,priority:3"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// HiddenUser records that AdminID suppressed UserID from their conversation
// list. The (admin_id, user_id) pair is unique.
type HiddenUser struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	AdminID   string    `json:"admin_id"   gorm:"type:varchar(64);not null;uniqueIndex:ux_hidden_admin_user"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_hidden_admin_user"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for HiddenUser.
func (HiddenUser) TableName() string { return "hidden_users" }

// FcmToken maps an identity to its most recent push device token.
type FcmToken struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex"`
	Token     string    `json:"-"          gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for FcmToken.
func (FcmToken) TableName() string { return "fcm_tokens" }
