package provider

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

const profileCols = `id, user_id, display_name, COALESCE(phone, ''), can_update_escalations, can_close_escalations, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.UserID, &p.DisplayName, &p.Phone,
		&p.CanUpdateEscalations, &p.CanCloseEscalations, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) getOne(ctx context.Context, where string, arg interface{}) (*Profile, error) {
	p, err := scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+profileCols+` FROM provider_profile WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("provider profile")
	}
	if err != nil {
		return nil, fmt.Errorf("get provider profile: %w", err)
	}
	return p, nil
}

func (r *repoPG) GetByUserID(ctx context.Context, userID string) (*Profile, error) {
	return r.getOne(ctx, "user_id = $1", userID)
}

func (r *repoPG) GetByPhone(ctx context.Context, phone string) (*Profile, error) {
	return r.getOne(ctx, "phone = $1", phone)
}

func (r *repoPG) ListWithPhones(ctx context.Context) ([]*Profile, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+profileCols+` FROM provider_profile WHERE phone IS NOT NULL AND phone <> '' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list provider profiles: %w", err)
	}
	defer rows.Close()
	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) Upsert(ctx context.Context, p *Profile) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	var phone interface{}
	if p.Phone != "" {
		phone = p.Phone
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO provider_profile (id, user_id, display_name, phone, can_update_escalations, can_close_escalations)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			phone = EXCLUDED.phone,
			can_update_escalations = EXCLUDED.can_update_escalations,
			can_close_escalations = EXCLUDED.can_close_escalations,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		p.ID, p.UserID, p.DisplayName, phone, p.CanUpdateEscalations, p.CanCloseEscalations).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert provider profile: %w", err)
	}
	return nil
}
