package models

import "time"

// Role tags a message author. Only user and assistant rows are persisted;
// system is used when assembling a generation request.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r may be stored in the messages table.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one persisted line of a thread. Rows are append-only; deleting
// the owning profile removes them.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ThreadID  string    `gorm:"size:255;not null;index" json:"thread_id"`
	ProfileID *int64    `gorm:"index" json:"profile_id,omitempty"`
	Profile   *Profile  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Role      Role      `gorm:"size:20;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Message) TableName() string { return "messages" }
