package provider

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the clinic-side record for an authenticated staff user. Phone is
// optional; providers with a phone receive escalation broadcasts and may
// issue chat commands.
type Profile struct {
	ID                   uuid.UUID `json:"id"`
	UserID               string    `json:"user_id"`
	DisplayName          string    `json:"display_name"`
	Phone                string    `json:"phone,omitempty"`
	CanUpdateEscalations bool      `json:"can_update_escalations"`
	CanCloseEscalations  bool      `json:"can_close_escalations"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Permissions are the escalation rights computed for one caller.
type Permissions struct {
	CanUpdate bool `json:"canUpdate"`
	CanClose  bool `json:"canClose"`
}
