// Package store owns durable conversation state. Every query that touches a
// conversation or message carries the caller's user id in its predicate;
// ownership is enforced here, not in callers.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation groups the messages of one chat thread. UserID is immutable
// after creation. Version increments on every committed turn and backs the
// optimistic concurrency check in AppendTurn.
type Conversation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index;index:idx_conversations_user_created,priority:1" json:"user_id"`
	CreatedAt time.Time `gorm:"not null;index:idx_conversations_user_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
}

// TableName implements the GORM tabler interface.
func (Conversation) TableName() string { return "conversations" }

// Message is a single utterance within a conversation. ToolCalls holds the
// serialized tool invocation records for assistant messages.
type Message struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null" json:"user_id"`
	Role           string         `gorm:"type:varchar(10);not null;check:role IN ('user','assistant')" json:"role"`
	Content        string         `gorm:"not null" json:"content"`
	ToolCalls      datatypes.JSON `json:"tool_calls,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;index;index:idx_messages_conversation_created,priority:2" json:"created_at"`
}

// TableName implements the GORM tabler interface.
func (Message) TableName() string { return "messages" }
