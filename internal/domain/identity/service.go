package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/phone"
)

// Resolver maps phone numbers to subjects, creating visitors on first
// contact.
type Resolver struct {
	repo   Repository
	logger zerolog.Logger
}

func NewResolver(repo Repository, logger zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger.With().Str("component", "identity").Logger()}
}

// Resolve looks the phone up as a patient channel, then as a visitor
// channel, and otherwise creates a visitor. Concurrent calls for the same new
// number yield the same visitor.
func (r *Resolver) Resolve(ctx context.Context, phoneE164 string) (Subject, error) {
	if !phone.Valid(phoneE164) {
		return Subject{}, apperr.Validation("phone", "must match ^\\+\\d{6,15}$")
	}

	for _, t := range []SubjectType{SubjectPatient, SubjectVisitor} {
		id, ok, err := r.repo.FindChannelOwner(ctx, t, ChannelWhatsApp, phoneE164)
		if err != nil {
			return Subject{}, err
		}
		if ok {
			return Subject{Type: t, ID: id}, nil
		}
	}

	id, err := r.repo.CreateVisitorWithChannel(ctx, &Visitor{}, ChannelWhatsApp, phoneE164)
	if err != nil {
		return Subject{}, fmt.Errorf("create visitor: %w", err)
	}
	r.logger.Info().Str("visitor_id", id.String()).Str("phone", phone.Mask(phoneE164)).Msg("visitor resolved")
	return Subject{Type: SubjectVisitor, ID: id}, nil
}

// ResolvePatient resolves the phone and requires the owner to be a patient.
func (r *Resolver) ResolvePatient(ctx context.Context, phoneE164 string) (uuid.UUID, error) {
	if !phone.Valid(phoneE164) {
		return uuid.Nil, apperr.Validation("phone", "must match ^\\+\\d{6,15}$")
	}
	id, ok, err := r.repo.FindChannelOwner(ctx, SubjectPatient, ChannelWhatsApp, phoneE164)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, apperr.NotFound("patient")
	}
	return id, nil
}

func (r *Resolver) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.repo.GetPatient(ctx, id)
}

// PreferredPhone returns the patient's preferred WhatsApp number.
func (r *Resolver) PreferredPhone(ctx context.Context, patientID uuid.UUID) (string, error) {
	c, err := r.repo.PreferredChannel(ctx, patientID, ChannelWhatsApp)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

func (r *Resolver) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := r.repo.DeletePatient(ctx, id); err != nil {
		return err
	}
	r.logger.Warn().Str("patient_id", id.String()).Msg("patient deleted with dependents")
	return nil
}
