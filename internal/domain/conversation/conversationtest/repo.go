// Package conversationtest provides an in-memory conversation.Repository.
package conversationtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain/conversation"
	"github.com/careline/careline/internal/domain/identity"
)

var _ conversation.Repository = (*Repo)(nil)

// Repo keeps a single conversation per subject.
type Repo struct {
	mu    sync.Mutex
	convs map[identity.Subject]uuid.UUID
	msgs  map[uuid.UUID][]conversation.Message

	// FailAppend, when set, is returned by every Append.
	FailAppend error
}

func NewRepo() *Repo {
	return &Repo{convs: make(map[identity.Subject]uuid.UUID), msgs: make(map[uuid.UUID][]conversation.Message)}
}

func (m *Repo) Append(_ context.Context, subject identity.Subject, msg *conversation.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppend != nil {
		return m.FailAppend
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	id, ok := m.convs[subject]
	if !ok {
		id = uuid.New()
		m.convs[subject] = id
	}
	list := m.msgs[id]
	if n := len(list); n > 0 && msg.CreatedAt.Before(list[n-1].CreatedAt) {
		msg.CreatedAt = list[n-1].CreatedAt
	}
	msg.ID, msg.ConversationID = uuid.New(), id
	m.msgs[id] = append(list, *msg)
	return nil
}

func (m *Repo) Recent(ctx context.Context, subject identity.Subject, limit int) ([]conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.msgs[m.convs[subject]]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]conversation.Message(nil), list...), nil
}

func (m *Repo) List(_ context.Context, subject identity.Subject, limit, offset int) ([]conversation.Message, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.msgs[m.convs[subject]]
	total := len(list)
	var out []conversation.Message
	for i := total - 1 - offset; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, list[i])
	}
	return out, total, nil
}
