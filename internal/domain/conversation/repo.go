package conversation

import (
	"context"

	"github.com/careline/careline/internal/domain/identity"
)

type Repository interface {
	// Append stores m in the subject's most recently updated conversation,
	// creating one if needed. m.CreatedAt is raised to the previous
	// message's timestamp when it would otherwise go backwards.
	Append(ctx context.Context, subject identity.Subject, m *Message) error
	// Recent returns up to limit of the newest messages, oldest first.
	Recent(ctx context.Context, subject identity.Subject, limit int) ([]Message, error)
	// List pages through all messages for the subject, newest first.
	List(ctx context.Context, subject identity.Subject, limit, offset int) ([]Message, int, error)
}
