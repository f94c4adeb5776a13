package chat

import "time"

// Sender is the closed set of message authors. Anything outside the
// set is treated as a user message when mapped to a model role.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// Message is one persisted turn. IDs may be supplied by the client so
// an optimistic copy can be correlated with the canonical row; the
// store treats the ID as idempotency key.
type Message struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID string    `gorm:"size:36;index" json:"sessionId"`
	Sender    Sender    `gorm:"size:16" json:"sender"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"createdAt"`

	// Streaming marks a not-yet-finalized message in a client view.
	// Never persisted.
	Streaming bool `gorm:"-" json:"streaming,omitempty"`
}

func (Message) TableName() string { return "chat_messages" }
