// Package escalation runs the workflow for flagged medical events: who may
// move an escalation between states, and who hears about it.
package escalation

import (
	"time"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain/records"
)

// Note is one entry in an escalation's append-only history.
type Note struct {
	ID           uuid.UUID `json:"id"`
	EscalationID uuid.UUID `json:"escalation_id"`
	Seq          int       `json:"seq"`
	AuthorID     string    `json:"author_id"`
	AuthorRole   string    `json:"author_role"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

// View is the API shape of an escalation.
type View struct {
	ID        uuid.UUID                `json:"id"`
	PatientID uuid.UUID                `json:"patient_id"`
	Status    records.EscalationStatus `json:"status"`
	Summary   string                   `json:"summary"`
	Media     []string                 `json:"media,omitempty"`
	OpenedBy  string                   `json:"opened_by,omitempty"`
	Version   int                      `json:"version"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
	Notes     []Note                   `json:"notes,omitempty"`
}

func newView(e *records.Escalation, notes []Note) *View {
	return &View{
		ID:        e.ID,
		PatientID: e.PatientID,
		Status:    e.Status,
		Summary:   e.Summary,
		Media:     e.Media,
		OpenedBy:  e.OpenedBy,
		Version:   e.Version,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Notes:     notes,
	}
}

// Update is a requested change. At least one of Status and Note is set.
// Version, when set, must match the stored version.
type Update struct {
	ID      uuid.UUID
	Status  *records.EscalationStatus
	Note    string
	Version *int
}

// transitions lists the states reachable from each state. Setting the
// current state again is a no-op and allowed except from closed.
var transitions = map[records.EscalationStatus][]records.EscalationStatus{
	records.StatusOpen:       {records.StatusOpen, records.StatusInProgress, records.StatusClosed},
	records.StatusInProgress: {records.StatusOpen, records.StatusInProgress, records.StatusClosed},
	records.StatusClosed:     nil,
}

func canTransition(from, to records.EscalationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
