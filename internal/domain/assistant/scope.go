package assistant

import (
	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain/identity"
)

type ScopeKind string

const (
	// ScopeSelf is a patient asking about themselves.
	ScopeSelf ScopeKind = "self"
	// ScopePatientRecord is a provider asking about a patient.
	ScopePatientRecord ScopeKind = "patient_record"
	// ScopeVisitor is an unregistered sender.
	ScopeVisitor ScopeKind = "visitor"
)

// Scope is the per-request context of a question. It is built by the
// caller for each request and never stored.
type Scope struct {
	Kind ScopeKind
	// SubjectType and SubjectID identify whose conversation history is
	// used as context. Zero for staff questions over HTTP.
	SubjectType identity.SubjectType
	SubjectID   uuid.UUID
	// PatientID is the patient whose records are in play.
	PatientID uuid.UUID
}

// SelfScope is a patient chatting about their own care.
func SelfScope(patientID uuid.UUID) *Scope {
	return &Scope{
		Kind:        ScopeSelf,
		SubjectType: identity.SubjectPatient,
		SubjectID:   patientID,
		PatientID:   patientID,
	}
}

// VisitorScope is an unknown number asking general questions.
func VisitorScope(visitorID uuid.UUID) *Scope {
	return &Scope{
		Kind:        ScopeVisitor,
		SubjectType: identity.SubjectVisitor,
		SubjectID:   visitorID,
	}
}

// PatientRecordScope is a provider asking about patientID.
func PatientRecordScope(patientID uuid.UUID) *Scope {
	return &Scope{Kind: ScopePatientRecord, PatientID: patientID}
}

// PatientNamespace is the retrieval namespace holding one patient's documents.
func PatientNamespace(patientID uuid.UUID) string {
	return "patient-" + patientID.String()
}

func (s *Scope) subject() (identity.Subject, bool) {
	if s == nil || !s.SubjectType.Valid() || s.SubjectID == uuid.Nil {
		return identity.Subject{}, false
	}
	return identity.Subject{Type: s.SubjectType, ID: s.SubjectID}, true
}

// namespaces lists the retrieval namespaces a question may read. Record
// questions see only that patient's index; a patient also sees the shared
// index; everyone else sees only the shared index.
func (s *Scope) namespaces(shared string) []string {
	if s == nil {
		return []string{shared}
	}
	switch s.Kind {
	case ScopePatientRecord:
		return []string{PatientNamespace(s.PatientID)}
	case ScopeSelf:
		return []string{shared, PatientNamespace(s.PatientID)}
	default:
		return []string{shared}
	}
}

// session keys the hosted agent's conversation state. Each subject gets
// its own so one caller's context never leaks into another's.
func (s *Scope) session() string {
	if s == nil {
		return ""
	}
	switch s.Kind {
	case ScopePatientRecord:
		return "record:" + s.PatientID.String()
	case ScopeSelf, ScopeVisitor:
		return string(s.SubjectType) + ":" + s.SubjectID.String()
	default:
		return ""
	}
}
