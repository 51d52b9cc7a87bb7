// Package consent issues and redeems patient approvals that let a provider
// read the patient's records.
package consent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/records"
	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/notification"
	"github.com/careline/careline/internal/platform/phone"
)

const tokenBytes = 32

// PatientResolver maps a phone to a registered patient.
type PatientResolver interface {
	ResolvePatient(ctx context.Context, phoneE164 string) (uuid.UUID, error)
}

// Notifier delivers a rendered template to one phone.
type Notifier interface {
	Send(ctx context.Context, to, templateID string, data map[string]string) error
}

type Ledger struct {
	store    records.Store
	patients PatientResolver
	notifier Notifier
	baseURL  string
	logger   zerolog.Logger
	now      func() time.Time
}

func NewLedger(store records.Store, patients PatientResolver, notifier Notifier, publicBaseURL string, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:    store,
		patients: patients,
		notifier: notifier,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		logger:   logger.With().Str("component", "consent").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IssueResult is the outcome of Issue. SendErr is set when the consent was
// stored but the approval link could not be delivered.
type IssueResult struct {
	Consent *records.ConsentGrant
	SendErr error
}

// Partial reports whether the link delivery failed.
func (r *IssueResult) Partial() bool { return r.SendErr != nil }

// Issue stores a pending consent for the patient behind patientPhone and
// sends them an approval link.
func (l *Ledger) Issue(ctx context.Context, providerPhone, patientPhone string) (*IssueResult, error) {
	if !phone.Valid(providerPhone) {
		return nil, apperr.Validation("provider_phone", "must match ^\\+\\d{6,15}$")
	}
	if !phone.Valid(patientPhone) {
		return nil, apperr.Validation("patient_phone", "must match ^\\+\\d{6,15}$")
	}
	patientID, err := l.patients.ResolvePatient(ctx, patientPhone)
	if err != nil {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generate consent token: %w", err)
	}
	c := &records.ConsentGrant{
		Header:        records.Header{PatientID: patientID},
		Token:         token,
		ProviderPhone: providerPhone,
		PatientPhone:  patientPhone,
	}
	if err := l.store.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("store consent: %w", err)
	}
	l.logAccess(ctx, patientID, providerPhone, "consent.requested")

	res := &IssueResult{Consent: c}
	err = l.notifier.Send(ctx, patientPhone, notification.ConsentRequest, map[string]string{
		"provider": providerPhone,
		"link":     l.Link(token),
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("consent link delivery failed")
		res.SendErr = err
	}
	return res, nil
}

// Link is the approval URL for token.
func (l *Ledger) Link(token string) string {
	return l.baseURL + "/consent/allow?token=" + url.QueryEscape(token)
}

// Redeem marks the consent for token as granted. Redeeming an already
// granted consent succeeds and changes nothing. The provider is notified
// only on the first grant.
func (l *Ledger) Redeem(ctx context.Context, token string) (*records.ConsentGrant, error) {
	if token == "" {
		return nil, apperr.Validation("token", "is required")
	}
	c, err := l.find(ctx, token)
	if err != nil {
		return nil, err
	}
	if c.Granted {
		return c, nil
	}

	now := l.now()
	c.Granted, c.GrantedAt = true, &now
	if err := l.store.Update(ctx, c); err != nil {
		var ce *apperr.ConflictError
		if !errors.As(err, &ce) {
			return nil, fmt.Errorf("grant consent: %w", err)
		}
		// A concurrent redeem got there first.
		c, err = l.find(ctx, token)
		if err != nil {
			return nil, err
		}
		if c.Granted {
			return c, nil
		}
		return nil, apperr.Conflict("consent")
	}

	l.logAccess(ctx, c.PatientID, "patient", "consent.granted")
	l.logger.Info().Str("patient_id", c.PatientID.String()).Str("phone", phone.Mask(c.ProviderPhone)).Msg("consent granted")
	if err := l.notifier.Send(ctx, c.ProviderPhone, notification.ConsentGranted, map[string]string{
		"patient": c.PatientPhone,
	}); err != nil {
		l.logger.Warn().Err(err).Str("patient_id", c.PatientID.String()).Msg("provider consent notification failed")
	}
	return c, nil
}

// HasGrantedConsent reports the flag of the patient's most recently updated
// consent. Patients with no consent have not granted access.
func (l *Ledger) HasGrantedConsent(ctx context.Context, patientID uuid.UUID) (bool, error) {
	rec, err := l.store.LatestByPatient(ctx, patientID, records.KindConsent)
	if apperr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c, ok := rec.(*records.ConsentGrant)
	if !ok {
		return false, fmt.Errorf("consent %s decoded as %T", rec.Head().ID, rec)
	}
	return c.Granted, nil
}

func (l *Ledger) find(ctx context.Context, token string) (*records.ConsentGrant, error) {
	rec, err := l.store.FindByMetadata(ctx, records.KindConsent, "token", token)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("consent token")
	}
	if err != nil {
		return nil, err
	}
	c, ok := rec.(*records.ConsentGrant)
	if !ok {
		return nil, fmt.Errorf("consent %s decoded as %T", rec.Head().ID, rec)
	}
	return c, nil
}

func (l *Ledger) logAccess(ctx context.Context, patientID uuid.UUID, actor, action string) {
	entry := &records.AccessLog{Header: records.Header{PatientID: patientID}, Actor: actor, Action: action}
	if err := l.store.Insert(ctx, entry); err != nil {
		l.logger.Warn().Err(err).Str("patient_id", patientID.String()).Str("action", action).Msg("access log write failed")
	}
}

var _ records.ConsentChecker = (*Ledger)(nil)

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
