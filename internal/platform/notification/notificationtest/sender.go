// Package notificationtest provides a recording gateway.Sender for tests.
package notificationtest

import (
	"context"
	"sync"

	"github.com/careline/careline/internal/platform/gateway"
)

var _ gateway.Sender = (*Sender)(nil)

// Call records one SendText.
type Call struct {
	To   string
	Body string
}

// Sender records every send. FailFor makes sends to the listed phones
// fail; FailAll fails every send.
type Sender struct {
	mu      sync.Mutex
	calls   []Call
	FailFor map[string]error
	FailAll error
}

func (s *Sender) SendText(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{To: to, Body: body})
	if s.FailAll != nil {
		return s.FailAll
	}
	if err, ok := s.FailFor[to]; ok {
		return err
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (s *Sender) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}
