package models

import (
	"time"
)

// SessionModel is the session header row.
type SessionModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  string `gorm:"type:text"` // JSON encoded session metadata
}

// TableName names the sessions table.
func (SessionModel) TableName() string {
	return "sessions"
}

// TurnModel is one history row. Rows are append-only; the log stays
// authoritative past the in-memory turn cap.
type TurnModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;size:64;not null"`
	Role      string `gorm:"size:32"`
	Type      string `gorm:"size:32;not null"`
	Status    string `gorm:"size:32"`
	Content   string `gorm:"type:text"`
	Metadata  string `gorm:"type:text"` // JSON encoded turn metadata
	CreatedAt time.Time
}

// TableName names the turn log table.
func (TurnModel) TableName() string {
	return "session_turns"
}
