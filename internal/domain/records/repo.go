package records

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows ListByKind to records whose metadata key equals value.
type Filter struct {
	Key   string
	Value string
}

type Store interface {
	// Insert assigns ID, Version=1 and timestamps.
	Insert(ctx context.Context, r Record) error
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	// Update writes r only if its stored version still equals r.Version,
	// then bumps the version. A stale version yields apperr.ConflictError.
	Update(ctx context.Context, r Record) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, kinds ...Kind) ([]Record, error)
	// LatestByPatient returns the most recently updated record of kind.
	LatestByPatient(ctx context.Context, patientID uuid.UUID, kind Kind) (Record, error)
	// FindByMetadata returns the record of kind whose metadata key equals value.
	FindByMetadata(ctx context.Context, kind Kind, key, value string) (Record, error)
	ListByKind(ctx context.Context, kind Kind, f *Filter, limit, offset int) ([]Record, int, error)
}
