package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/domain/identity"
	"github.com/careline/careline/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Append(ctx context.Context, subject identity.Subject, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)

		// Serializes appenders for one subject, including the first one
		// that has to create the conversation row.
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, subject.String()); err != nil {
			return fmt.Errorf("lock conversation: %w", err)
		}

		var convID uuid.UUID
		err := q.QueryRow(ctx, `
			SELECT id FROM conversation
			WHERE subject_type = $1 AND subject_id = $2
			ORDER BY updated_at DESC
			LIMIT 1
			FOR UPDATE`, subject.Type, subject.ID).Scan(&convID)
		if errors.Is(err, pgx.ErrNoRows) {
			convID = uuid.New()
			if _, err := q.Exec(ctx, `
				INSERT INTO conversation (id, subject_type, subject_id) VALUES ($1, $2, $3)`,
				convID, subject.Type, subject.ID); err != nil {
				return fmt.Errorf("create conversation: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("select conversation: %w", err)
		}

		var last *time.Time
		if err := q.QueryRow(ctx,
			`SELECT MAX(created_at) FROM comm_message WHERE conversation_id = $1`, convID).Scan(&last); err != nil {
			return fmt.Errorf("last message time: %w", err)
		}
		if last != nil && m.CreatedAt.Before(*last) {
			m.CreatedAt = *last
		}

		m.ID = uuid.New()
		m.ConversationID = convID
		var external interface{}
		if m.ExternalID != "" {
			external = m.ExternalID
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO comm_message (id, conversation_id, direction, sender_class, body, external_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, convID, m.Direction, m.SenderClass, m.Body, external, m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := q.Exec(ctx,
			`UPDATE conversation SET updated_at = NOW() WHERE id = $1`, convID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
}

const messageCols = `m.id, m.conversation_id, m.direction, m.sender_class, m.body, COALESCE(m.external_id, ''), m.created_at`

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.SenderClass,
			&m.Body, &m.ExternalID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repoPG) Recent(ctx context.Context, subject identity.Subject, limit int) ([]Message, error) {
	msgs, _, err := r.List(ctx, subject, limit, 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *repoPG) List(ctx context.Context, subject identity.Subject, limit, offset int) ([]Message, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM comm_message m
		JOIN conversation c ON c.id = m.conversation_id
		WHERE c.subject_type = $1 AND c.subject_id = $2`,
		subject.Type, subject.ID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT `+messageCols+` FROM comm_message m
		JOIN conversation c ON c.id = m.conversation_id
		WHERE c.subject_type = $1 AND c.subject_id = $2
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3 OFFSET $4`, subject.Type, subject.ID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan messages: %w", err)
	}
	return msgs, total, nil
}
