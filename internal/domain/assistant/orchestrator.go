// Package assistant answers questions from the retrieval index, or from a
// hosted agent when one is configured, within an explicit per-request scope.
package assistant

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/conversation"
	"github.com/careline/careline/internal/domain/identity"
	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/llm"
	"github.com/careline/careline/internal/platform/retrieval"
)

const (
	defaultTopK  = 5
	historyTurns = 6
)

type Searcher interface {
	Search(ctx context.Context, query, namespace string, topK int) ([]retrieval.Match, error)
}

// Agent is a hosted conversational backend that answers on its own.
type Agent interface {
	Ask(ctx context.Context, question, session string) (string, error)
}

type ConsentChecker interface {
	HasGrantedConsent(ctx context.Context, patientID uuid.UUID) (bool, error)
}

type History interface {
	History(ctx context.Context, subject identity.Subject, limit int) ([]conversation.Message, error)
}

type Deps struct {
	Search           Searcher
	Composer         llm.Composer
	Agent            Agent // optional
	Consent          ConsentChecker
	History          History // optional
	TopK             int
	DefaultNamespace string
	Logger           zerolog.Logger
}

type Orchestrator struct {
	search    Searcher
	composer  llm.Composer
	agent     Agent
	consent   ConsentChecker
	history   History
	topK      int
	namespace string
	logger    zerolog.Logger
}

func NewOrchestrator(d Deps) *Orchestrator {
	topK := d.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	composer := d.Composer
	if composer == nil {
		composer = llm.ExtractiveComposer{}
	}
	return &Orchestrator{
		search:    d.Search,
		composer:  composer,
		agent:     d.Agent,
		consent:   d.Consent,
		history:   d.History,
		topK:      topK,
		namespace: d.DefaultNamespace,
		logger:    d.Logger.With().Str("component", "assistant").Logger(),
	}
}

// Answer is the result of one question. Billable is true iff Text is
// non-empty.
type Answer struct {
	Text     string            `json:"text"`
	Matches  []retrieval.Match `json:"matches"`
	Billable bool              `json:"billable"`
	Source   string            `json:"source"`
}

// Answer responds to question within scope; nil scope is a general
// question. Patient-record questions without the patient's consent are
// refused with reason no_consent whatever they ask.
func (o *Orchestrator) Answer(ctx context.Context, question string, scope *Scope) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Validation("question", "is required")
	}
	if scope != nil && scope.Kind == ScopePatientRecord {
		if scope.PatientID == uuid.Nil {
			return nil, apperr.Validation("patient_id", "is required")
		}
		ok, err := o.consent.HasGrantedConsent(ctx, scope.PatientID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Forbidden(apperr.ReasonNoConsent)
		}
	}

	if o.agent != nil {
		text, err := o.agent.Ask(ctx, question, scope.session())
		if err != nil {
			return nil, err
		}
		return &Answer{Text: text, Matches: []retrieval.Match{}, Billable: text != "", Source: "agent"}, nil
	}

	namespaces := scope.namespaces(o.namespace)
	matches, err := o.searchAll(ctx, question, namespaces)
	if err != nil {
		return nil, err
	}
	passages := make([]string, 0, len(matches))
	for _, m := range matches {
		passages = append(passages, m.Text)
	}

	text, err := o.composer.Compose(ctx, llm.Prompt{
		Question: question,
		Passages: passages,
		History:  o.turns(ctx, scope),
	})
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if matches == nil {
		matches = []retrieval.Match{}
	}
	o.logger.Debug().Strs("namespaces", namespaces).Int("matches", len(matches)).
		Str("composer", o.composer.Name()).Bool("answered", text != "").Msg("question answered")
	return &Answer{Text: text, Matches: matches, Billable: text != "", Source: o.composer.Name()}, nil
}

// searchAll queries each namespace and keeps the topK best matches
// overall, highest score first.
func (o *Orchestrator) searchAll(ctx context.Context, question string, namespaces []string) ([]retrieval.Match, error) {
	if len(namespaces) == 1 {
		return o.search.Search(ctx, question, namespaces[0], o.topK)
	}
	var all []retrieval.Match
	for _, ns := range namespaces {
		matches, err := o.search.Search(ctx, question, ns, o.topK)
		if err != nil {
			return nil, err
		}
		all = append(all, matches...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > o.topK {
		all = all[:o.topK]
	}
	return all, nil
}

// turns loads recent conversation history as model context. A failure only
// costs context, so it is logged and skipped.
func (o *Orchestrator) turns(ctx context.Context, scope *Scope) []llm.Turn {
	subject, ok := scope.subject()
	if !ok || o.history == nil {
		return nil
	}
	msgs, err := o.history.History(ctx, subject, historyTurns)
	if err != nil {
		o.logger.Warn().Err(err).Str("subject", subject.String()).Msg("load history failed")
		return nil
	}
	var out []llm.Turn
	for _, m := range msgs {
		switch {
		case m.SenderClass == conversation.SenderSystem:
			continue
		case m.Direction == conversation.Inbound:
			out = append(out, llm.Turn{Role: "user", Text: m.Body})
		default:
			out = append(out, llm.Turn{Role: "assistant", Text: m.Body})
		}
	}
	return out
}
