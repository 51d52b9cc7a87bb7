package records_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/records"
	"github.com/careline/careline/internal/domain/records/recordstest"
	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
)

type stubConsent map[uuid.UUID]bool

func (s stubConsent) HasGrantedConsent(_ context.Context, id uuid.UUID) (bool, error) {
	return s[id], nil
}

func TestStore_UpdateVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := recordstest.NewStore()
	e := &records.Escalation{Header: records.Header{PatientID: uuid.New()}, Status: records.StatusOpen}
	if err := store.Insert(ctx, e); err != nil {
		t.Fatal(err)
	}

	a, _ := store.Get(ctx, e.ID)
	b, _ := store.Get(ctx, e.ID)
	a.(*records.Escalation).Status = records.StatusInProgress
	if err := store.Update(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if a.Head().Version != 2 {
		t.Errorf("expected version 2, got %d", a.Head().Version)
	}
	b.(*records.Escalation).Status = records.StatusClosed
	err := store.Update(ctx, b)
	if code, _ := apperr.Status(err); code != 409 {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestStore_LatestByPatient(t *testing.T) {
	ctx := context.Background()
	store := recordstest.NewStore()
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { clock = clock.Add(time.Second); return clock })
	pid := uuid.New()

	first := &records.ConsentGrant{Header: records.Header{PatientID: pid}, Token: "t1"}
	second := &records.ConsentGrant{Header: records.Header{PatientID: pid}, Token: "t2"}
	store.Insert(ctx, first)
	store.Insert(ctx, second)

	latest, err := store.LatestByPatient(ctx, pid, records.KindConsent)
	if err != nil {
		t.Fatal(err)
	}
	if latest.(*records.ConsentGrant).Token != "t2" {
		t.Errorf("expected newest consent, got %s", latest.(*records.ConsentGrant).Token)
	}

	first.Granted = true
	store.Update(ctx, first)
	latest, _ = store.LatestByPatient(ctx, pid, records.KindConsent)
	if latest.(*records.ConsentGrant).Token != "t1" {
		t.Errorf("expected most recently updated consent, got %s", latest.(*records.ConsentGrant).Token)
	}

	if _, err := store.LatestByPatient(ctx, uuid.New(), records.KindConsent); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	store := recordstest.NewStore()
	consented, other := uuid.New(), uuid.New()
	for _, pid := range []uuid.UUID{consented, other} {
		store.Insert(ctx, &records.Vitals{Header: records.Header{PatientID: pid}, Measurements: []records.Measurement{{Name: "bp", Value: 120}}})
	}
	svc := records.NewService(store, stubConsent{consented: true}, zerolog.Nop())

	admin := auth.Caller{UserID: "a", Roles: []string{auth.RoleAdmin}}
	provider := auth.Caller{UserID: "p", Roles: []string{auth.RoleProvider}}
	stranger := auth.Caller{UserID: "s"}

	if recs, err := svc.List(ctx, admin, other); err != nil || len(recs) != 1 {
		t.Errorf("admin list: %v, %d", err, len(recs))
	}
	if _, err := svc.List(ctx, provider, other); apperr.ReasonOf(err) != apperr.ReasonNoConsent {
		t.Errorf("expected no_consent, got %v", err)
	}
	if _, err := svc.List(ctx, stranger, consented); apperr.ReasonOf(err) != apperr.ReasonForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}

	recs, err := svc.List(ctx, provider, consented, records.KindVitals)
	if err != nil || len(recs) != 1 {
		t.Fatalf("provider list: %v, %d", err, len(recs))
	}
	logs, _ := store.ListByPatient(ctx, consented, records.KindAccessLog)
	if len(logs) != 1 || logs[0].(*records.AccessLog).Actor != "p" {
		t.Errorf("expected one access log by p, got %v", logs)
	}
}
