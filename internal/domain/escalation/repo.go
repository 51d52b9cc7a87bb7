package escalation

import (
	"context"

	"github.com/google/uuid"
)

// NoteRepository stores escalation notes. Append assigns the next sequence
// number for the escalation.
type NoteRepository interface {
	Append(ctx context.Context, n *Note) error
	// List returns notes newest first.
	List(ctx context.Context, escalationID uuid.UUID) ([]Note, error)
}
