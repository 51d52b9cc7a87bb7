// Package messaging turns inbound chat webhooks into replies: it works out
// who is writing, records the exchange, and answers within that sender's
// scope.
package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/assistant"
	"github.com/careline/careline/internal/domain/consent"
	"github.com/careline/careline/internal/domain/conversation"
	"github.com/careline/careline/internal/domain/escalation"
	"github.com/careline/careline/internal/domain/identity"
	"github.com/careline/careline/internal/domain/provider"
	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/dedupe"
	"github.com/careline/careline/internal/platform/gateway"
	"github.com/careline/careline/internal/platform/phone"
)

// Reply texts.
const (
	replyFallback     = "Sorry, I don't have an answer to that. Please contact the clinic directly."
	replyUnavailable  = "Sorry, I can't answer right now. Please try again shortly or contact the clinic."
	replyUrgent       = "Your message has been flagged to your care team, who will contact you shortly. If this is an emergency, call your local emergency number now."
	replyUrgentFailed = "If this is an emergency, call your local emergency number now. We could not reach your care team automatically; please call the clinic."
	replyUsage        = "Commands:\n/consent <patient phone>\n/ask <patient phone> <question>"
)

type Resolver interface {
	Resolve(ctx context.Context, phoneE164 string) (identity.Subject, error)
	ResolvePatient(ctx context.Context, phoneE164 string) (uuid.UUID, error)
}

type Providers interface {
	ByPhone(ctx context.Context, phoneE164 string) (*provider.Profile, bool, error)
}

type ConsentIssuer interface {
	Issue(ctx context.Context, providerPhone, patientPhone string) (*consent.IssueResult, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string, scope *assistant.Scope) (*assistant.Answer, error)
}

type Escalations interface {
	Open(ctx context.Context, patientID uuid.UUID, summary string, media []string, openedBy string) (*escalation.View, error)
}

type Ledger interface {
	Append(ctx context.Context, subject identity.Subject, m *conversation.Message) error
	Record(ctx context.Context, subject identity.Subject, m *conversation.Message)
}

type Deps struct {
	Dedupe         dedupe.Store
	Resolver       Resolver
	Providers      Providers
	Consent        ConsentIssuer
	Assistant      Answerer
	Escalations    Escalations
	Ledger         Ledger
	Sender         gateway.Sender
	UrgentKeywords []string
	Logger         zerolog.Logger
}

type Pipeline struct {
	dedupe      dedupe.Store
	resolver    Resolver
	providers   Providers
	consent     ConsentIssuer
	assistant   Answerer
	escalations Escalations
	ledger      Ledger
	sender      gateway.Sender
	urgent      []string
	logger      zerolog.Logger
}

func NewPipeline(d Deps) *Pipeline {
	urgent := make([]string, 0, len(d.UrgentKeywords))
	for _, k := range d.UrgentKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			urgent = append(urgent, k)
		}
	}
	return &Pipeline{
		dedupe:      d.Dedupe,
		resolver:    d.Resolver,
		providers:   d.Providers,
		consent:     d.Consent,
		assistant:   d.Assistant,
		escalations: d.Escalations,
		ledger:      d.Ledger,
		sender:      d.Sender,
		urgent:      urgent,
		logger:      d.Logger.With().Str("component", "messaging").Logger(),
	}
}

// Outcome statuses.
const (
	StatusIgnored = "ignored"
	StatusReplied = "replied"
)

// Result is what the webhook acknowledges with.
type Result struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Billable bool   `json:"billable,omitempty"`
}

func ignored(reason string) *Result { return &Result{Status: StatusIgnored, Reason: reason} }

// Handle processes one webhook body. Deliveries that cannot be routed are
// acknowledged as ignored. An error means the reply could not be produced
// or sent.
func (p *Pipeline) Handle(ctx context.Context, body []byte) (*Result, error) {
	in, ok := Extract(body)
	if !ok {
		return ignored("unroutable"), nil
	}
	if in.FromMe {
		return ignored("own_message"), nil
	}
	if in.MessageID != "" && p.dedupe != nil {
		first, err := p.dedupe.First(ctx, in.MessageID)
		if err != nil {
			p.logger.Warn().Err(err).Str("message_id", in.MessageID).Msg("dedupe check failed, processing anyway")
		} else if !first {
			return ignored("duplicate"), nil
		}
	}

	log := p.logger.With().Str("phone", phone.Mask(in.Phone)).Str("message_id", in.MessageID).Logger()
	ctx = log.WithContext(ctx)

	prof, isProvider, err := p.providers.ByPhone(ctx, in.Phone)
	if err != nil {
		return nil, fmt.Errorf("provider lookup: %w", err)
	}
	if isProvider {
		return p.handleProvider(ctx, prof, in)
	}
	return p.handleSubject(ctx, in)
}

func (p *Pipeline) handleSubject(ctx context.Context, in Inbound) (*Result, error) {
	log := zerolog.Ctx(ctx)
	subject, err := p.resolver.Resolve(ctx, in.Phone)
	if err != nil {
		return nil, fmt.Errorf("resolve sender: %w", err)
	}

	sender := conversation.SenderVisitor
	if subject.IsPatient() {
		sender = conversation.SenderPatient
	}
	if err := p.ledger.Append(ctx, subject, &conversation.Message{
		Direction:   conversation.Inbound,
		SenderClass: sender,
		Body:        in.Text,
		ExternalID:  in.MessageID,
	}); err != nil {
		return nil, err
	}

	var (
		reply    string
		billable bool
	)
	if subject.IsPatient() && p.isUrgent(in.Text) {
		reply = replyUrgent
		if _, err := p.escalations.Open(ctx, subject.ID, in.Text, nil, "patient"); err != nil {
			log.Error().Err(err).Str("patient_id", subject.ID.String()).Msg("urgent escalation failed")
			reply = replyUrgentFailed
		}
	} else {
		var scope *assistant.Scope
		if subject.IsPatient() {
			scope = assistant.SelfScope(subject.ID)
		} else {
			scope = assistant.VisitorScope(subject.ID)
		}
		reply, billable = p.answer(ctx, in.Text, scope)
	}

	if err := p.sender.SendText(ctx, in.Phone, reply); err != nil {
		log.Error().Err(err).Msg("reply send failed")
		return nil, err
	}
	p.ledger.Record(ctx, subject, &conversation.Message{
		Direction:   conversation.Outbound,
		SenderClass: conversation.SenderAssistant,
		Body:        reply,
	})
	return &Result{Status: StatusReplied, Billable: billable}, nil
}

// answer asks the assistant and falls back to a fixed text when it has
// nothing to say or fails.
func (p *Pipeline) answer(ctx context.Context, question string, scope *assistant.Scope) (string, bool) {
	ans, err := p.assistant.Answer(ctx, question, scope)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("assistant failed")
		return replyUnavailable, false
	}
	if ans.Text == "" {
		return replyFallback, false
	}
	return ans.Text, ans.Billable
}

func (p *Pipeline) isUrgent(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range p.urgent {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (p *Pipeline) handleProvider(ctx context.Context, prof *provider.Profile, in Inbound) (*Result, error) {
	reply, billable := p.providerReply(ctx, prof, in)
	if err := p.sender.SendText(ctx, in.Phone, reply); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("user_id", prof.UserID).Msg("reply send failed")
		return nil, err
	}
	return &Result{Status: StatusReplied, Billable: billable}, nil
}

func (p *Pipeline) providerReply(ctx context.Context, prof *provider.Profile, in Inbound) (string, bool) {
	cmd, rest := splitCommand(in.Text)
	switch cmd {
	case "/consent":
		target, ok := phone.Normalize(rest)
		if !ok {
			return replyUsage, false
		}
		return p.requestConsent(ctx, in.Phone, target), false
	case "/ask":
		rawPhone, question := splitCommand(rest)
		target, ok := phone.Normalize(rawPhone)
		if !ok || question == "" {
			return replyUsage, false
		}
		return p.askAboutPatient(ctx, target, question)
	case "/help":
		return replyUsage, false
	}
	if strings.HasPrefix(cmd, "/") {
		return replyUsage, false
	}
	return p.answer(ctx, in.Text, nil)
}

func (p *Pipeline) requestConsent(ctx context.Context, providerPhone, patientPhone string) string {
	res, err := p.consent.Issue(ctx, providerPhone, patientPhone)
	switch {
	case apperr.IsNotFound(err):
		return fmt.Sprintf("No patient is registered with %s.", patientPhone)
	case err != nil:
		zerolog.Ctx(ctx).Warn().Err(err).Msg("consent issue failed")
		return "Could not create the consent request: " + errMessage(err)
	case res.Partial():
		return "Consent request recorded, but the approval link could not be delivered: " + errMessage(res.SendErr)
	default:
		return fmt.Sprintf("Consent request sent to %s. You'll be notified when they approve.", patientPhone)
	}
}

func (p *Pipeline) askAboutPatient(ctx context.Context, patientPhone, question string) (string, bool) {
	patientID, err := p.resolver.ResolvePatient(ctx, patientPhone)
	if apperr.IsNotFound(err) {
		return fmt.Sprintf("No patient is registered with %s.", patientPhone), false
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("resolve patient failed")
		return replyUnavailable, false
	}
	ans, err := p.assistant.Answer(ctx, question, assistant.PatientRecordScope(patientID))
	if apperr.ReasonOf(err) == apperr.ReasonNoConsent {
		return fmt.Sprintf("%s has not approved access to their records. Send /consent %s first.", patientPhone, patientPhone), false
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("assistant failed")
		return replyUnavailable, false
	}
	if ans.Text == "" {
		return replyFallback, false
	}
	return ans.Text, ans.Billable
}

// splitCommand splits off the first whitespace-separated word.
func splitCommand(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return strings.ToLower(s), ""
	}
	return strings.ToLower(s[:i]), strings.TrimSpace(s[i+1:])
}

func errMessage(err error) string {
	_, msg := apperr.Status(err)
	return msg
}
