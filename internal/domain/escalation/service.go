package escalation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/conversation"
	"github.com/careline/careline/internal/domain/identity"
	"github.com/careline/careline/internal/domain/provider"
	"github.com/careline/careline/internal/domain/records"
	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/internal/platform/notification"
)

// TxFunc runs fn in one database transaction carried on ctx.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// Providers supplies caller permissions and broadcast recipients.
type Providers interface {
	Permissions(ctx context.Context, caller auth.Caller) (provider.Permissions, error)
	BroadcastPhones(ctx context.Context) ([]string, error)
}

type Patients interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// AuditTrail records a message in the patient's conversation without
// failing the caller.
type AuditTrail interface {
	Record(ctx context.Context, subject identity.Subject, m *conversation.Message)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, recipients []string, templateID string, data map[string]string) (*notification.BroadcastResult, error)
}

type Deps struct {
	Store     records.Store
	Notes     NoteRepository
	Tx        TxFunc
	Providers Providers
	Patients  Patients
	Audit     AuditTrail
	Notifier  Broadcaster
	Logger    zerolog.Logger
}

type Service struct {
	store     records.Store
	notes     NoteRepository
	tx        TxFunc
	providers Providers
	patients  Patients
	audit     AuditTrail
	notifier  Broadcaster
	logger    zerolog.Logger
}

func NewService(d Deps) *Service {
	tx := d.Tx
	if tx == nil {
		tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		store:     d.Store,
		notes:     d.Notes,
		tx:        tx,
		providers: d.Providers,
		patients:  d.Patients,
		audit:     d.Audit,
		notifier:  d.Notifier,
		logger:    d.Logger.With().Str("component", "escalation").Logger(),
	}
}

func (s *Service) Permissions(ctx context.Context, caller auth.Caller) (provider.Permissions, error) {
	return s.providers.Permissions(ctx, caller)
}

// Open creates an escalation in state open and tells every provider.
func (s *Service) Open(ctx context.Context, patientID uuid.UUID, summary string, media []string, openedBy string) (*View, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, apperr.Validation("summary", "is required")
	}
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patient_id", "is required")
	}
	e := &records.Escalation{
		Header:   records.Header{PatientID: patientID},
		Status:   records.StatusOpen,
		Summary:  summary,
		Media:    media,
		OpenedBy: openedBy,
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("create escalation: %w", err)
	}
	s.logger.Info().Str("escalation_id", e.ID.String()).Str("patient_id", patientID.String()).Msg("escalation opened")

	s.audit.Record(ctx, identity.Subject{Type: identity.SubjectPatient, ID: patientID}, &conversation.Message{
		Direction:   conversation.Outbound,
		SenderClass: conversation.SenderSystem,
		Body:        fmt.Sprintf("Escalation %s opened: %s", e.ID, summary),
	})
	s.broadcast(ctx, notification.EscalationOpened, map[string]string{
		"id":      e.ID.String(),
		"patient": s.patientName(ctx, patientID),
		"summary": summary,
	})
	return newView(e, nil), nil
}

// Create opens an escalation on behalf of an authenticated caller, who
// needs update rights.
func (s *Service) Create(ctx context.Context, caller auth.Caller, patientID uuid.UUID, summary string, media []string) (*View, error) {
	perms, err := s.providers.Permissions(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !perms.CanUpdate {
		return nil, apperr.Forbidden(apperr.ReasonForbidden)
	}
	return s.Open(ctx, patientID, summary, media, caller.UserID)
}

// authorize applies the permission matrix. Notes and open/in_progress
// moves need CanUpdate; closing needs CanClose, and a bare close needs
// nothing else.
func authorize(perms provider.Permissions, u Update) error {
	closing := u.Status != nil && *u.Status == records.StatusClosed
	if !perms.CanUpdate && !perms.CanClose {
		return apperr.Forbidden(apperr.ReasonForbidden)
	}
	if closing && !perms.CanClose {
		return apperr.Forbidden(apperr.ReasonForbiddenClose)
	}
	if (u.Note != "" || (u.Status != nil && !closing)) && !perms.CanUpdate {
		return apperr.Forbidden(apperr.ReasonForbidden)
	}
	return nil
}

// Apply validates and applies an update. The status change and the note are
// written in one transaction; the audit message and broadcast follow and
// never undo it.
func (s *Service) Apply(ctx context.Context, caller auth.Caller, u Update) (*View, error) {
	u.Note = strings.TrimSpace(u.Note)
	if u.Status == nil && u.Note == "" {
		return nil, apperr.Validation("", "status or note is required")
	}
	if u.Status != nil && !u.Status.Valid() {
		return nil, apperr.Validation("status", "must be open, in_progress or closed")
	}

	perms, err := s.providers.Permissions(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := authorize(perms, u); err != nil {
		return nil, err
	}

	var (
		e       *records.Escalation
		from    records.EscalationStatus
		changed bool
	)
	err = s.tx(ctx, func(ctx context.Context) error {
		var err error
		if e, err = s.load(ctx, u.ID); err != nil {
			return err
		}
		if u.Version != nil && *u.Version != e.Version {
			return apperr.Conflict("escalation")
		}
		from = e.Status
		if u.Status != nil {
			if !canTransition(e.Status, *u.Status) {
				return apperr.Validation("status", "invalid_transition")
			}
			if *u.Status != e.Status {
				e.Status = *u.Status
				changed = true
				if err := s.store.Update(ctx, e); err != nil {
					return err
				}
			}
		}
		if u.Note != "" {
			if err := s.notes.Append(ctx, &Note{
				EscalationID: e.ID,
				AuthorID:     caller.UserID,
				AuthorRole:   authorRole(caller),
				Body:         u.Note,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	notes, err := s.notes.List(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	log := s.logger.Info().Str("escalation_id", e.ID.String()).Str("user_id", caller.UserID)
	if changed {
		log = log.Str("from", string(from)).Str("to", string(e.Status))
	}
	log.Bool("note", u.Note != "").Msg("escalation updated")

	s.audit.Record(ctx, identity.Subject{Type: identity.SubjectPatient, ID: e.PatientID}, &conversation.Message{
		Direction:   conversation.Outbound,
		SenderClass: conversation.SenderSystem,
		Body:        auditText(e, from, changed, caller.UserID, u.Note),
	})
	data := map[string]string{
		"id":      e.ID.String(),
		"patient": s.patientName(ctx, e.PatientID),
		"status":  string(e.Status),
		"note":    "",
	}
	if u.Note != "" {
		data["note"] = " Note: " + u.Note
	}
	s.broadcast(ctx, notification.EscalationUpdated, data)

	return newView(e, notes), nil
}

// Get returns one escalation with its notes, newest first.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	notes, err := s.notes.List(ctx, id)
	if err != nil {
		return nil, err
	}
	return newView(e, notes), nil
}

// List pages through escalations, optionally filtered by status.
func (s *Service) List(ctx context.Context, status records.EscalationStatus, limit, offset int) ([]*View, int, error) {
	var f *records.Filter
	if status != "" {
		if !status.Valid() {
			return nil, 0, apperr.Validation("status", "must be open, in_progress or closed")
		}
		f = &records.Filter{Key: "status", Value: string(status)}
	}
	recs, total, err := s.store.ListByKind(ctx, records.KindEscalation, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*View, 0, len(recs))
	for _, r := range recs {
		if e, ok := r.(*records.Escalation); ok {
			out = append(out, newView(e, nil))
		}
	}
	return out, total, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*records.Escalation, error) {
	rec, err := s.store.Get(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("escalation")
	}
	if err != nil {
		return nil, err
	}
	e, ok := rec.(*records.Escalation)
	if !ok {
		return nil, apperr.NotFound("escalation")
	}
	return e, nil
}

func (s *Service) broadcast(ctx context.Context, templateID string, data map[string]string) {
	phones, err := s.providers.BroadcastPhones(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("list broadcast recipients failed")
		return
	}
	res, err := s.notifier.Broadcast(ctx, phones, templateID, data)
	if err != nil {
		s.logger.Warn().Err(err).Str("template", templateID).Msg("broadcast failed")
		return
	}
	if len(res.Failed) > 0 {
		s.logger.Warn().Int("sent", len(res.Sent)).Int("failed", len(res.Failed)).
			Str("escalation_id", data["id"]).Msg("broadcast partially delivered")
	}
}

func (s *Service) patientName(ctx context.Context, id uuid.UUID) string {
	if s.patients != nil {
		if p, err := s.patients.GetPatient(ctx, id); err == nil {
			if name := p.DisplayName(); name != "" {
				return name
			}
		}
	}
	return id.String()[:8]
}

func authorRole(c auth.Caller) string {
	switch {
	case c.IsAdmin():
		return auth.RoleAdmin
	case c.HasRole(auth.RoleProvider):
		return auth.RoleProvider
	default:
		return "unknown"
	}
}

func auditText(e *records.Escalation, from records.EscalationStatus, changed bool, userID, note string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Escalation %s", e.ID)
	if changed {
		fmt.Fprintf(&b, " moved from %s to %s", from, e.Status)
	} else {
		b.WriteString(" updated")
	}
	fmt.Fprintf(&b, " by %s.", userID)
	if note != "" {
		b.WriteString(" Note: ")
		b.WriteString(note)
	}
	return b.String()
}
