package identity

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

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) FindChannelOwner(ctx context.Context, ownerType SubjectType, channelType, value string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT owner_id FROM contact_channel
		WHERE owner_type = $1 AND channel_type = $2 AND value = $3
		ORDER BY preferred DESC, created_at ASC
		LIMIT 1`, ownerType, channelType, value).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("find channel owner: %w", err)
	}
	return id, true, nil
}

func (r *repoPG) CreateVisitorWithChannel(ctx context.Context, v *Visitor, channelType, value string) (uuid.UUID, error) {
	owner := uuid.Nil
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		v.ID = uuid.New()
		if _, err := q.Exec(ctx,
			`INSERT INTO visitor (id, display_name) VALUES ($1, $2)`, v.ID, v.DisplayName); err != nil {
			return fmt.Errorf("insert visitor: %w", err)
		}

		tag, err := q.Exec(ctx, `
			INSERT INTO contact_channel (id, owner_type, owner_id, channel_type, value, preferred)
			VALUES ($1, 'visitor', $2, $3, $4, TRUE)
			ON CONFLICT DO NOTHING`, uuid.New(), v.ID, channelType, value)
		if err != nil {
			return fmt.Errorf("insert visitor channel: %w", err)
		}
		if tag.RowsAffected() == 1 {
			owner = v.ID
			return nil
		}

		// Lost the race: drop our visitor and adopt the winner's.
		if _, err := q.Exec(ctx, `DELETE FROM visitor WHERE id = $1`, v.ID); err != nil {
			return fmt.Errorf("discard duplicate visitor: %w", err)
		}
		if err := q.QueryRow(ctx, `
			SELECT owner_id FROM contact_channel
			WHERE owner_type = 'visitor' AND channel_type = $1 AND value = $2`,
			channelType, value).Scan(&owner); err != nil {
			return fmt.Errorf("reread visitor channel: %w", err)
		}
		v.ID = owner
		return nil
	})
	return owner, err
}

func (r *repoPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, first_name, last_name, birth_date, created_at, updated_at
		FROM patient WHERE id = $1`, id).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.BirthDate, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient")
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &p, nil
}

func (r *repoPG) PreferredChannel(ctx context.Context, patientID uuid.UUID, channelType string) (*ContactChannel, error) {
	var c ContactChannel
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, owner_type, owner_id, channel_type, value, preferred, created_at
		FROM contact_channel
		WHERE owner_type = 'patient' AND owner_id = $1 AND channel_type = $2
		ORDER BY preferred DESC, created_at ASC
		LIMIT 1`, patientID, channelType).
		Scan(&c.ID, &c.OwnerType, &c.OwnerID, &c.ChannelType, &c.Value, &c.Preferred, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("contact channel")
	}
	if err != nil {
		return nil, fmt.Errorf("preferred channel: %w", err)
	}
	return &c, nil
}

// DeletePatient runs in one transaction. Pregnancies and documents go with
// the patient row through ON DELETE CASCADE, escalation notes with their
// documents, messages with their conversations.
func (r *repoPG) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		if _, err := q.Exec(ctx,
			`DELETE FROM contact_channel WHERE owner_type = 'patient' AND owner_id = $1`, id); err != nil {
			return fmt.Errorf("delete contact channels: %w", err)
		}
		if _, err := q.Exec(ctx,
			`DELETE FROM conversation WHERE subject_type = 'patient' AND subject_id = $1`, id); err != nil {
			return fmt.Errorf("delete conversations: %w", err)
		}
		tag, err := q.Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete patient: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("patient")
		}
		return nil
	})
}
