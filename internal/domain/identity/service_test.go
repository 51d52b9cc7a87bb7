package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/apperr"
)

// -- Mock Repository --

type channelKey struct {
	owner SubjectType
	ctype string
	value string
}

type mockRepo struct {
	mu       sync.Mutex
	channels map[channelKey]uuid.UUID
	patients map[uuid.UUID]*Patient
	visitors int
	lookups  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		channels: make(map[channelKey]uuid.UUID),
		patients: make(map[uuid.UUID]*Patient),
	}
}

func (m *mockRepo) addPatient(phone string) *Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Patient{ID: uuid.New(), FirstName: "Ada", LastName: "Obi", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.patients[p.ID] = p
	m.channels[channelKey{SubjectPatient, ChannelWhatsApp, phone}] = p.ID
	return p
}

func (m *mockRepo) FindChannelOwner(_ context.Context, t SubjectType, ctype, value string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	id, ok := m.channels[channelKey{t, ctype, value}]
	return id, ok, nil
}

func (m *mockRepo) CreateVisitorWithChannel(_ context.Context, v *Visitor, ctype, value string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := channelKey{SubjectVisitor, ctype, value}
	if id, ok := m.channels[k]; ok {
		return id, nil
	}
	v.ID = uuid.New()
	m.channels[k] = v.ID
	m.visitors++
	return v.ID, nil
}

func (m *mockRepo) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient")
	}
	return p, nil
}

func (m *mockRepo) PreferredChannel(_ context.Context, patientID uuid.UUID, ctype string) (*ContactChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, id := range m.channels {
		if k.owner == SubjectPatient && k.ctype == ctype && id == patientID {
			return &ContactChannel{OwnerType: SubjectPatient, OwnerID: id, ChannelType: ctype, Value: k.value, Preferred: true}, nil
		}
	}
	return nil, apperr.NotFound("contact channel")
}

func (m *mockRepo) DeletePatient(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return apperr.NotFound("patient")
	}
	delete(m.patients, id)
	for k, owner := range m.channels {
		if k.owner == SubjectPatient && owner == id {
			delete(m.channels, k)
		}
	}
	return nil
}

func newTestResolver() (*Resolver, *mockRepo) {
	repo := newMockRepo()
	return NewResolver(repo, zerolog.Nop()), repo
}

func TestResolve_Patient(t *testing.T) {
	r, repo := newTestResolver()
	p := repo.addPatient("+15551234567")

	s, err := r.Resolve(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Type != SubjectPatient || s.ID != p.ID {
		t.Errorf("expected patient %s, got %v", p.ID, s)
	}
	if repo.visitors != 0 {
		t.Error("no visitor should be created for a known patient")
	}
}

func TestResolve_CreatesVisitorOnce(t *testing.T) {
	r, repo := newTestResolver()
	ctx := context.Background()

	first, err := r.Resolve(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Type != SubjectVisitor {
		t.Fatalf("expected visitor, got %s", first.Type)
	}
	second, err := r.Resolve(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first != second {
		t.Errorf("repeat resolve changed subject: %v vs %v", first, second)
	}
	if repo.visitors != 1 {
		t.Errorf("expected 1 visitor, got %d", repo.visitors)
	}
}

func TestResolve_ConcurrentSameNumber(t *testing.T) {
	r, repo := newTestResolver()

	const n = 16
	results := make([]Subject, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Resolve(context.Background(), "+15550002222")
			if err != nil {
				t.Errorf("Resolve: %v", err)
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range results[1:] {
		if s != results[0] {
			t.Fatalf("concurrent resolves disagree: %v vs %v", s, results[0])
		}
	}
	if repo.visitors != 1 {
		t.Errorf("expected exactly 1 visitor, got %d", repo.visitors)
	}
}

func TestResolve_InvalidPhone(t *testing.T) {
	r, repo := newTestResolver()
	for _, in := range []string{"", "15551234567", "+123", "+1555123456789012"} {
		_, err := r.Resolve(context.Background(), in)
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Resolve(%q): expected validation error, got %v", in, err)
		}
	}
	if repo.lookups != 0 {
		t.Error("invalid phones must not reach the repository")
	}
}

func TestResolvePatient_VisitorIsNotFound(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()
	if _, err := r.Resolve(ctx, "+15550003333"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ResolvePatient(ctx, "+15550003333"); !apperr.IsNotFound(err) {
		t.Errorf("expected not found for visitor number, got %v", err)
	}
}

func TestPreferredPhoneAndDelete(t *testing.T) {
	r, repo := newTestResolver()
	ctx := context.Background()
	p := repo.addPatient("+15559998888")

	ph, err := r.PreferredPhone(ctx, p.ID)
	if err != nil || ph != "+15559998888" {
		t.Fatalf("PreferredPhone = %q, %v", ph, err)
	}
	if err := r.DeletePatient(ctx, p.ID); err != nil {
		t.Fatalf("DeletePatient: %v", err)
	}
	if _, err := r.GetPatient(ctx, p.ID); !apperr.IsNotFound(err) {
		t.Errorf("expected patient gone, got %v", err)
	}
	s, _ := r.Resolve(ctx, "+15559998888")
	if s.Type != SubjectVisitor {
		t.Errorf("deleted patient's number should now resolve to a visitor, got %s", s.Type)
	}
	if err := r.DeletePatient(ctx, p.ID); !apperr.IsNotFound(err) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}
