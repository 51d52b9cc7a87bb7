// Package providertest provides an in-memory provider.Repository.
package providertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain/provider"
	"github.com/careline/careline/internal/platform/apperr"
)

var _ provider.Repository = (*Repo)(nil)

type Repo struct {
	mu       sync.Mutex
	profiles map[string]provider.Profile
}

// NewRepo returns a repository seeded with profiles.
func NewRepo(profiles ...*provider.Profile) *Repo {
	r := &Repo{profiles: make(map[string]provider.Profile)}
	for _, p := range profiles {
		r.Upsert(context.Background(), p)
	}
	return r
}

func (r *Repo) GetByUserID(_ context.Context, userID string) (*provider.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, apperr.NotFound("provider profile")
	}
	return &p, nil
}

func (r *Repo) GetByPhone(_ context.Context, phone string) (*provider.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.Phone != "" && p.Phone == phone {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("provider profile")
}

func (r *Repo) ListWithPhones(_ context.Context) ([]*provider.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*provider.Profile
	for _, p := range r.profiles {
		if p.Phone != "" {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *Repo) Upsert(_ context.Context, p *provider.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if cur, ok := r.profiles[p.UserID]; ok {
		p.ID, p.CreatedAt = cur.ID, cur.CreatedAt
	} else {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.profiles[p.UserID] = *p
	return nil
}
