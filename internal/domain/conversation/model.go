// Package conversation is the append-only message ledger per subject.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Sender classes recorded on each message.
const (
	SenderPatient   = "patient"
	SenderVisitor   = "visitor"
	SenderProvider  = "provider"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

type Conversation struct {
	ID          uuid.UUID `json:"id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   uuid.UUID `json:"subject_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Direction      Direction `json:"direction"`
	SenderClass    string    `json:"sender_class"`
	Body           string    `json:"body"`
	ExternalID     string    `json:"external_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
