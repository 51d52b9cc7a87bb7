// Package records stores typed patient documents. Every variant shares one
// table row shape (type code plus JSON metadata) and is decoded into its own
// Go type, so callers switch on concrete types rather than probing maps.
package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAllergies      Kind = "allergies"
	KindVitals         Kind = "vitals"
	KindMedicalHistory Kind = "medical_history"
	KindConsent        Kind = "consent_access"
	KindEscalation     Kind = "medical_escalation"
	KindAccessLog      Kind = "access_log"
)

var kinds = map[Kind]bool{
	KindAllergies: true, KindVitals: true, KindMedicalHistory: true,
	KindConsent: true, KindEscalation: true, KindAccessLog: true,
}

// ParseKind validates a kind from user input.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	return k, kinds[k]
}

// Header holds the columns every document has.
type Header struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *Header) Head() *Header { return h }

func (*Header) sealed() {}

// Record is implemented only by the variants in this package.
type Record interface {
	Kind() Kind
	Head() *Header
	sealed()
}

type Allergy struct {
	Substance string `json:"substance"`
	Reaction  string `json:"reaction,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

type Allergies struct {
	Header `json:"-"`
	Items  []Allergy `json:"items"`
}

func (*Allergies) Kind() Kind { return KindAllergies }

type Measurement struct {
	Name    string     `json:"name"`
	Value   float64    `json:"value"`
	Unit    string     `json:"unit,omitempty"`
	TakenAt *time.Time `json:"taken_at,omitempty"`
}

type Vitals struct {
	Header       `json:"-"`
	Measurements []Measurement `json:"measurements"`
}

func (*Vitals) Kind() Kind { return KindVitals }

type MedicalHistory struct {
	Header      `json:"-"`
	Conditions  []string `json:"conditions,omitempty"`
	Medications []string `json:"medications,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

func (*MedicalHistory) Kind() Kind { return KindMedicalHistory }

// ConsentGrant is one provider's request for access to a patient's records.
// Granted flips false to true at most once.
type ConsentGrant struct {
	Header        `json:"-"`
	Token         string     `json:"token"`
	ProviderPhone string     `json:"provider_phone"`
	PatientPhone  string     `json:"patient_phone,omitempty"`
	Granted       bool       `json:"granted"`
	GrantedAt     *time.Time `json:"granted_at,omitempty"`
}

func (*ConsentGrant) Kind() Kind { return KindConsent }

type EscalationStatus string

const (
	StatusOpen       EscalationStatus = "open"
	StatusInProgress EscalationStatus = "in_progress"
	StatusClosed     EscalationStatus = "closed"
)

func (s EscalationStatus) Valid() bool {
	return s == StatusOpen || s == StatusInProgress || s == StatusClosed
}

// Escalation is a flagged medical event. Notes live in their own
// append-only table.
type Escalation struct {
	Header   `json:"-"`
	Status   EscalationStatus `json:"status"`
	Summary  string           `json:"summary"`
	Media    []string         `json:"media,omitempty"`
	OpenedBy string           `json:"opened_by,omitempty"`
}

func (*Escalation) Kind() Kind { return KindEscalation }

// AccessLog records who touched a patient's records and why.
type AccessLog struct {
	Header `json:"-"`
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
}

func (*AccessLog) Kind() Kind { return KindAccessLog }

// Row is the stored shape of any record.
type Row struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	TypeCode  string
	Metadata  []byte
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Encode converts a record to its row.
func Encode(r Record) (Row, error) {
	meta, err := json.Marshal(r)
	if err != nil {
		return Row{}, fmt.Errorf("encode %s: %w", r.Kind(), err)
	}
	h := r.Head()
	return Row{
		ID:        h.ID,
		PatientID: h.PatientID,
		TypeCode:  string(r.Kind()),
		Metadata:  meta,
		Version:   h.Version,
		CreatedAt: h.CreatedAt,
		UpdatedAt: h.UpdatedAt,
	}, nil
}

// Decode converts a row to its typed record. Unknown type codes are an error.
func Decode(row Row) (Record, error) {
	var r Record
	switch Kind(row.TypeCode) {
	case KindAllergies:
		r = &Allergies{}
	case KindVitals:
		r = &Vitals{}
	case KindMedicalHistory:
		r = &MedicalHistory{}
	case KindConsent:
		r = &ConsentGrant{}
	case KindEscalation:
		r = &Escalation{}
	case KindAccessLog:
		r = &AccessLog{}
	default:
		return nil, fmt.Errorf("unknown record type %q", row.TypeCode)
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, r); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", row.TypeCode, row.ID, err)
		}
	}
	*r.Head() = Header{
		ID:        row.ID,
		PatientID: row.PatientID,
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	return r, nil
}

// Envelope is the API shape: header columns, kind, and the typed payload.
type Envelope struct {
	Header
	Kind Kind   `json:"kind"`
	Data Record `json:"data"`
}

func Wrap(r Record) Envelope {
	return Envelope{Header: *r.Head(), Kind: r.Kind(), Data: r}
}
