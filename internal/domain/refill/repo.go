package refill

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/pkg/daterange"
)

type RefillRepository interface {
	Create(ctx context.Context, r *Refill) error
	// ListByOriginal returns refills of one prescription, newest first.
	ListByOriginal(ctx context.Context, originalID uuid.UUID) ([]*Refill, error)
	// ListByPatient returns refills whose original prescription belongs to
	// the patient, newest first.
	ListByPatient(ctx context.Context, patientID string) ([]*Refill, error)
	ListInRange(ctx context.Context, r daterange.Range) ([]*Refill, error)
}
