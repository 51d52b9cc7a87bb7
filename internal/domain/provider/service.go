package provider

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/internal/platform/phone"
)

// Directory answers who the providers are and what they may do.
type Directory struct {
	repo   Repository
	logger zerolog.Logger
}

func NewDirectory(repo Repository, logger zerolog.Logger) *Directory {
	return &Directory{repo: repo, logger: logger.With().Str("component", "provider").Logger()}
}

// Permissions computes escalation rights. Admins get everything; providers
// get their profile bits (none without a profile); anyone else gets nothing.
func (d *Directory) Permissions(ctx context.Context, caller auth.Caller) (Permissions, error) {
	if caller.IsAdmin() {
		return Permissions{CanUpdate: true, CanClose: true}, nil
	}
	if !caller.HasRole(auth.RoleProvider) {
		return Permissions{}, nil
	}
	p, err := d.repo.GetByUserID(ctx, caller.UserID)
	if apperr.IsNotFound(err) {
		return Permissions{}, nil
	}
	if err != nil {
		return Permissions{}, err
	}
	return Permissions{CanUpdate: p.CanUpdateEscalations, CanClose: p.CanCloseEscalations}, nil
}

// ByPhone returns the provider registered for phoneE164, if any.
func (d *Directory) ByPhone(ctx context.Context, phoneE164 string) (*Profile, bool, error) {
	p, err := d.repo.GetByPhone(ctx, phoneE164)
	if apperr.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// BroadcastPhones lists the phones of every provider that can be notified.
func (d *Directory) BroadcastPhones(ctx context.Context) ([]string, error) {
	profiles, err := d.repo.ListWithPhones(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.Phone)
	}
	return out, nil
}

func (d *Directory) Get(ctx context.Context, userID string) (*Profile, error) {
	return d.repo.GetByUserID(ctx, userID)
}

// Save validates and upserts a profile.
func (d *Directory) Save(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return apperr.Validation("user_id", "is required")
	}
	if p.Phone != "" && !phone.Valid(p.Phone) {
		return apperr.Validation("phone", "must match ^\\+\\d{6,15}$")
	}
	if err := d.repo.Upsert(ctx, p); err != nil {
		return err
	}
	d.logger.Info().Str("user_id", p.UserID).
		Bool("can_update", p.CanUpdateEscalations).
		Bool("can_close", p.CanCloseEscalations).
		Msg("provider profile saved")
	return nil
}

// Grant sets the escalation permission bits for userID, creating the
// profile when it does not exist yet.
func (d *Directory) Grant(ctx context.Context, userID string, canUpdate, canClose bool) (*Profile, error) {
	p, err := d.repo.GetByUserID(ctx, userID)
	if apperr.IsNotFound(err) {
		p, err = &Profile{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	p.CanUpdateEscalations, p.CanCloseEscalations = canUpdate, canClose
	if err := d.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
