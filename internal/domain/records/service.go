package records

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
)

// ConsentChecker reports whether a patient has granted record access.
type ConsentChecker interface {
	HasGrantedConsent(ctx context.Context, patientID uuid.UUID) (bool, error)
}

type Service struct {
	store   Store
	consent ConsentChecker
	logger  zerolog.Logger
}

func NewService(store Store, consent ConsentChecker, logger zerolog.Logger) *Service {
	return &Service{store: store, consent: consent, logger: logger.With().Str("component", "records").Logger()}
}

// List returns a patient's records for staff. Admins always see them;
// providers need the patient's consent. Provider reads are audited.
func (s *Service) List(ctx context.Context, caller auth.Caller, patientID uuid.UUID, kinds ...Kind) ([]Record, error) {
	if !caller.IsAdmin() {
		if !caller.HasRole(auth.RoleProvider) {
			return nil, apperr.Forbidden(apperr.ReasonForbidden)
		}
		ok, err := s.consent.HasGrantedConsent(ctx, patientID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Forbidden(apperr.ReasonNoConsent)
		}
		s.LogAccess(ctx, patientID, caller.UserID, "records.read", "")
	}
	return s.store.ListByPatient(ctx, patientID, kinds...)
}

// LogAccess appends an AccessLog record. Failures are logged and swallowed.
func (s *Service) LogAccess(ctx context.Context, patientID uuid.UUID, actor, action, detail string) {
	entry := &AccessLog{Header: Header{PatientID: patientID}, Actor: actor, Action: action, Detail: detail}
	if err := s.store.Insert(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Str("action", action).Msg("access log write failed")
	}
}
