package counseling

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/pkg/daterange"
)

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	// ListByPatient returns sessions newest first.
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Session, int, error)
	ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*Session, error)
	ListInRange(ctx context.Context, r daterange.Range) ([]*Session, error)
}
