package identity

import (
	"time"

	"github.com/google/uuid"
)

// SubjectType distinguishes a known patient from an unregistered visitor.
type SubjectType string

const (
	SubjectPatient SubjectType = "patient"
	SubjectVisitor SubjectType = "visitor"
)

func (t SubjectType) Valid() bool {
	return t == SubjectPatient || t == SubjectVisitor
}

// ChannelWhatsApp is the channel type used for phone-addressed chats.
const ChannelWhatsApp = "whatsapp"

// Subject is the resolved owner of a phone number.
type Subject struct {
	Type SubjectType `json:"type"`
	ID   uuid.UUID   `json:"id"`
}

func (s Subject) IsPatient() bool { return s.Type == SubjectPatient }

func (s Subject) String() string { return string(s.Type) + ":" + s.ID.String() }

type Patient struct {
	ID        uuid.UUID  `json:"id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (p *Patient) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}

type Visitor struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ContactChannel struct {
	ID          uuid.UUID   `json:"id"`
	OwnerType   SubjectType `json:"owner_type"`
	OwnerID     uuid.UUID   `json:"owner_id"`
	ChannelType string      `json:"channel_type"`
	Value       string      `json:"value"`
	Preferred   bool        `json:"preferred"`
	CreatedAt   time.Time   `json:"created_at"`
}
