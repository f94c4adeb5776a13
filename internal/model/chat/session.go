package chat

import "time"

// Session is a persisted conversation thread between one user and one
// character. UserID and CharacterID are immutable after creation;
// UpdatedAt is bumped whenever a message lands in the session.
type Session struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	UserID      string    `gorm:"size:64;index" json:"userId"`
	CharacterID string    `gorm:"size:64;index" json:"characterId"`
	Title       string    `gorm:"size:255" json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName keeps the table aligned with the change-feed event naming.
func (Session) TableName() string { return "chat_sessions" }
