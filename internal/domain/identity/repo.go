package identity

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// FindChannelOwner returns the owner of an exact channel value, if any.
	FindChannelOwner(ctx context.Context, ownerType SubjectType, channelType, value string) (uuid.UUID, bool, error)
	// CreateVisitorWithChannel creates a visitor owning the channel, or
	// returns the existing visitor if another writer got there first.
	CreateVisitorWithChannel(ctx context.Context, v *Visitor, channelType, value string) (uuid.UUID, error)

	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	PreferredChannel(ctx context.Context, patientID uuid.UUID, channelType string) (*ContactChannel, error)
	// DeletePatient removes the patient and everything that references it.
	DeletePatient(ctx context.Context, id uuid.UUID) error
}
