package escalation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/conversation"
	"github.com/careline/careline/internal/domain/conversation/conversationtest"
	"github.com/careline/careline/internal/domain/identity"
	"github.com/careline/careline/internal/domain/provider"
	"github.com/careline/careline/internal/domain/provider/providertest"
	"github.com/careline/careline/internal/domain/records"
	"github.com/careline/careline/internal/domain/records/recordstest"
	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/internal/platform/notification"
	"github.com/careline/careline/internal/platform/notification/notificationtest"
)

type memNotes struct {
	mu    sync.Mutex
	notes map[uuid.UUID][]Note
}

func (m *memNotes) Append(_ context.Context, n *Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notes == nil {
		m.notes = make(map[uuid.UUID][]Note)
	}
	n.ID = uuid.New()
	n.Seq = len(m.notes[n.EscalationID]) + 1
	n.CreatedAt = time.Now().UTC()
	m.notes[n.EscalationID] = append(m.notes[n.EscalationID], *n)
	return nil
}

func (m *memNotes) List(_ context.Context, id uuid.UUID) ([]Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Note(nil), m.notes[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

type noPatients struct{}

func (noPatients) GetPatient(context.Context, uuid.UUID) (*identity.Patient, error) {
	return &identity.Patient{FirstName: "Grace", LastName: "Hopper"}, nil
}

type fixture struct {
	svc    *Service
	store  *recordstest.Store
	convs  *conversationtest.Repo
	sender *notificationtest.Sender
}

var (
	admin   = auth.Caller{UserID: "admin", Roles: []string{auth.RoleAdmin}}
	viewer  = auth.Caller{UserID: "viewer", Roles: []string{auth.RoleProvider}}
	updater = auth.Caller{UserID: "updater", Roles: []string{auth.RoleProvider}}
	closer  = auth.Caller{UserID: "closer", Roles: []string{auth.RoleProvider}}
	outside = auth.Caller{UserID: "outside"}

	closeOnly = auth.Caller{UserID: "close-only", Roles: []string{auth.RoleProvider}}
)

func newFixture() *fixture {
	store := recordstest.NewStore()
	convs := conversationtest.NewRepo()
	sender := &notificationtest.Sender{}
	dir := provider.NewDirectory(providertest.NewRepo(
		&provider.Profile{UserID: "viewer", Phone: "+15550000001"},
		&provider.Profile{UserID: "updater", Phone: "+15550000002", CanUpdateEscalations: true},
		&provider.Profile{UserID: "closer", Phone: "+15550000003", CanUpdateEscalations: true, CanCloseEscalations: true},
		&provider.Profile{UserID: "close-only", Phone: "+15550000004", CanCloseEscalations: true},
	), zerolog.Nop())
	svc := NewService(Deps{
		Store:     store,
		Notes:     &memNotes{},
		Providers: dir,
		Patients:  noPatients{},
		Audit:     conversation.NewLedger(convs, zerolog.Nop()),
		Notifier:  notification.NewNotifier(sender, notification.NewTemplateEngine(), 2, zerolog.Nop()),
		Logger:    zerolog.Nop(),
	})
	return &fixture{svc: svc, store: store, convs: convs, sender: sender}
}

func (f *fixture) open(t *testing.T) *View {
	t.Helper()
	v, err := f.svc.Open(context.Background(), uuid.New(), "heavy bleeding", nil, "patient")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return v
}

func status(s records.EscalationStatus) *records.EscalationStatus { return &s }

func TestOpen_BroadcastsToProviders(t *testing.T) {
	f := newFixture()
	v := f.open(t)
	if v.Status != records.StatusOpen || v.Version != 1 {
		t.Errorf("unexpected view %+v", v)
	}
	calls := f.sender.Calls()
	if len(calls) != 4 {
		t.Fatalf("expected 4 broadcast sends, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Body, "Grace Hopper") || !strings.Contains(calls[0].Body, "heavy bleeding") {
		t.Errorf("unexpected body %q", calls[0].Body)
	}
	hist, _ := f.convs.Recent(context.Background(), identity.Subject{Type: identity.SubjectPatient, ID: v.PatientID}, 10)
	if len(hist) != 1 || hist[0].SenderClass != conversation.SenderSystem {
		t.Errorf("expected one audit message, got %+v", hist)
	}
}

func TestOpen_RequiresSummary(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Open(context.Background(), uuid.New(), "  ", nil, "patient"); err == nil {
		t.Error("expected validation error")
	}
}

func TestApply_PermissionMatrix(t *testing.T) {
	tests := []struct {
		name       string
		caller     auth.Caller
		status     *records.EscalationStatus
		note       string
		wantCode   int
		wantReason string
	}{
		{"admin closes", admin, status(records.StatusClosed), "", 200, ""},
		{"admin notes", admin, nil, "checked in", 200, ""},
		{"viewer notes", viewer, nil, "hello", 403, apperr.ReasonForbidden},
		{"viewer moves", viewer, status(records.StatusInProgress), "", 403, apperr.ReasonForbidden},
		{"updater moves", updater, status(records.StatusInProgress), "on it", 200, ""},
		{"updater closes", updater, status(records.StatusClosed), "", 403, apperr.ReasonForbiddenClose},
		{"closer closes", closer, status(records.StatusClosed), "resolved", 200, ""},
		{"no role", outside, nil, "hi", 403, apperr.ReasonForbidden},
		{"close-only closes", closeOnly, status(records.StatusClosed), "", 200, ""},
		{"close-only notes", closeOnly, nil, "hello", 403, apperr.ReasonForbidden},
		{"close-only moves", closeOnly, status(records.StatusInProgress), "", 403, apperr.ReasonForbidden},
		{"close-only closes with note", closeOnly, status(records.StatusClosed), "done", 403, apperr.ReasonForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			v := f.open(t)
			_, err := f.svc.Apply(context.Background(), tt.caller, Update{ID: v.ID, Status: tt.status, Note: tt.note})
			code := 200
			if err != nil {
				code, _ = apperr.Status(err)
			}
			if code != tt.wantCode {
				t.Fatalf("expected %d, got %d (%v)", tt.wantCode, code, err)
			}
			if tt.wantReason != "" && apperr.ReasonOf(err) != tt.wantReason {
				t.Errorf("expected reason %q, got %q", tt.wantReason, apperr.ReasonOf(err))
			}
		})
	}
}

func TestApply_ProviderScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.open(t)

	if _, err := f.svc.Apply(ctx, viewer, Update{ID: v.ID, Note: "looking"}); apperr.ReasonOf(err) != apperr.ReasonForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	got, err := f.svc.Apply(ctx, updater, Update{ID: v.ID, Status: status(records.StatusInProgress)})
	if err != nil || got.Status != records.StatusInProgress {
		t.Fatalf("expected in_progress, got %v %v", got, err)
	}
	if _, err := f.svc.Apply(ctx, updater, Update{ID: v.ID, Status: status(records.StatusClosed)}); apperr.ReasonOf(err) != apperr.ReasonForbiddenClose {
		t.Fatalf("expected forbidden_close, got %v", err)
	}
}

func TestApply_ClosedIsTerminal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.open(t)
	if _, err := f.svc.Apply(ctx, admin, Update{ID: v.ID, Status: status(records.StatusClosed)}); err != nil {
		t.Fatal(err)
	}
	for _, s := range []records.EscalationStatus{records.StatusOpen, records.StatusInProgress, records.StatusClosed} {
		_, err := f.svc.Apply(ctx, admin, Update{ID: v.ID, Status: status(s)})
		if code, msg := apperr.Status(err); code != 400 || !strings.Contains(msg, "invalid_transition") {
			t.Errorf("closed -> %s: expected invalid_transition, got %v", s, err)
		}
	}
	got, _ := f.svc.Get(ctx, v.ID)
	if got.Status != records.StatusClosed {
		t.Errorf("expected closed, got %s", got.Status)
	}
}

func TestApply_NotesNewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.open(t)
	for _, n := range []string{"first", "second", "third"} {
		if _, err := f.svc.Apply(ctx, updater, Update{ID: v.ID, Note: n}); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := f.svc.Get(ctx, v.ID)
	if len(got.Notes) != 3 || got.Notes[0].Body != "third" || got.Notes[2].Seq != 1 {
		t.Errorf("unexpected notes %+v", got.Notes)
	}
	if got.Notes[0].AuthorID != "updater" || got.Notes[0].AuthorRole != auth.RoleProvider {
		t.Errorf("unexpected author %+v", got.Notes[0])
	}
}

func TestApply_StaleVersionConflicts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.open(t)
	stale := v.Version
	if _, err := f.svc.Apply(ctx, admin, Update{ID: v.ID, Status: status(records.StatusInProgress), Version: &stale}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Apply(ctx, admin, Update{ID: v.ID, Status: status(records.StatusClosed), Version: &stale})
	if code, _ := apperr.Status(err); code != 409 {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestApply_Validation(t *testing.T) {
	f := newFixture()
	v := f.open(t)
	if _, err := f.svc.Apply(context.Background(), admin, Update{ID: v.ID}); err == nil {
		t.Error("expected error when neither status nor note is given")
	}
	if _, err := f.svc.Apply(context.Background(), admin, Update{ID: v.ID, Status: status("paused")}); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, err := f.svc.Apply(context.Background(), admin, Update{ID: uuid.New(), Note: "x"}); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestApply_SideEffectFailuresDoNotRollBack(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.open(t)
	f.convs.FailAppend = errors.New("db down")
	f.sender.FailFor = map[string]error{"+15550000001": errors.New("offline")}

	before := len(f.sender.Calls())
	got, err := f.svc.Apply(ctx, closer, Update{ID: v.ID, Status: status(records.StatusClosed), Note: "done"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Status != records.StatusClosed {
		t.Errorf("expected closed, got %s", got.Status)
	}
	if sent := len(f.sender.Calls()) - before; sent != 4 {
		t.Errorf("expected every provider to be attempted, got %d", sent)
	}
}

func TestList_FilterByStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.open(t)
	f.open(t)
	f.svc.Apply(ctx, admin, Update{ID: a.ID, Status: status(records.StatusClosed)})

	open, total, err := f.svc.List(ctx, records.StatusOpen, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(open) != 1 || open[0].ID == a.ID {
		t.Errorf("expected the one open escalation, got %d %+v", total, open)
	}
	if _, _, err := f.svc.List(ctx, "stuck", 10, 0); err == nil {
		t.Error("expected validation error for unknown status")
	}
}
