package conversation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/identity"
	"github.com/careline/careline/internal/platform/apperr"
)

const defaultHistory = 10

type Ledger struct {
	repo   Repository
	logger zerolog.Logger
}

func NewLedger(repo Repository, logger zerolog.Logger) *Ledger {
	return &Ledger{repo: repo, logger: logger.With().Str("component", "conversation").Logger()}
}

// Append records one message for subject. Timestamps never go backwards
// within a conversation.
func (l *Ledger) Append(ctx context.Context, subject identity.Subject, m *Message) error {
	if !subject.Type.Valid() {
		return apperr.Validation("subject_type", "must be patient or visitor")
	}
	if m.Direction != Inbound && m.Direction != Outbound {
		return apperr.Validation("direction", "must be inbound or outbound")
	}
	if err := l.repo.Append(ctx, subject, m); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Record appends a message and logs instead of failing. Used for the audit
// trail that must not break the caller's primary path.
func (l *Ledger) Record(ctx context.Context, subject identity.Subject, m *Message) {
	if err := l.Append(ctx, subject, m); err != nil {
		l.logger.Warn().Err(err).Str("subject", subject.String()).Msg("conversation append failed")
	}
}

// History returns recent messages oldest first. limit <= 0 uses a default.
func (l *Ledger) History(ctx context.Context, subject identity.Subject, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistory
	}
	return l.repo.Recent(ctx, subject, limit)
}

func (l *Ledger) List(ctx context.Context, subject identity.Subject, limit, offset int) ([]Message, int, error) {
	return l.repo.List(ctx, subject, limit, offset)
}
