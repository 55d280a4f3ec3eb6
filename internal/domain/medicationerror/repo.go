package medicationerror

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/pkg/daterange"
)

type Repository interface {
	Create(ctx context.Context, e *MedicationError) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationError, error)
	Update(ctx context.Context, e *MedicationError) error
	// Search filters by type, severity and status, newest report first.
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicationError, int, error)
	// ListOpen returns open errors, oldest report first.
	ListOpen(ctx context.Context) ([]*MedicationError, error)
	ListInRange(ctx context.Context, r daterange.Range) ([]*MedicationError, error)
}
