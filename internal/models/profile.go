package models

import "time"

// Profile is a persona a conversation runs under. Name is the immutable,
// case-sensitive identifier.
type Profile struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Profile) TableName() string { return "chat_profiles" }
