package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/db"
)

type noteRepoPG struct {
	pool *pgxpool.Pool
}

func NewNoteRepo(pool *pgxpool.Pool) NoteRepository {
	return &noteRepoPG{pool: pool}
}

// Append locks the escalation row so concurrent writers get consecutive
// sequence numbers instead of colliding.
func (r *noteRepoPG) Append(ctx context.Context, n *Note) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		var locked uuid.UUID
		err := q.QueryRow(ctx, `
			SELECT id FROM patient_document WHERE id = $1 AND type_code = 'medical_escalation' FOR UPDATE`,
			n.EscalationID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("escalation")
		}
		if err != nil {
			return fmt.Errorf("lock escalation: %w", err)
		}

		n.ID = uuid.New()
		err = q.QueryRow(ctx, `
			INSERT INTO escalation_note (id, document_id, seq, author_id, author_role, body)
			SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5
			FROM escalation_note WHERE document_id = $2
			RETURNING seq, created_at`,
			n.ID, n.EscalationID, n.AuthorID, n.AuthorRole, n.Body).Scan(&n.Seq, &n.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert escalation note: %w", err)
		}
		return nil
	})
}

func (r *noteRepoPG) List(ctx context.Context, escalationID uuid.UUID) ([]Note, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, document_id, seq, author_id, author_role, body, created_at
		FROM escalation_note WHERE document_id = $1
		ORDER BY seq DESC`, escalationID)
	if err != nil {
		return nil, fmt.Errorf("list escalation notes: %w", err)
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.EscalationID, &n.Seq, &n.AuthorID, &n.AuthorRole, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
