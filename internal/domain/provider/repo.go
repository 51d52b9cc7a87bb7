package provider

import (
	"context"
)

type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*Profile, error)
	GetByPhone(ctx context.Context, phone string) (*Profile, error)
	// ListWithPhones returns every profile that has a phone registered.
	ListWithPhones(ctx context.Context) ([]*Profile, error)
	// Upsert creates the profile for p.UserID or overwrites its fields.
	Upsert(ctx context.Context, p *Profile) error
}
