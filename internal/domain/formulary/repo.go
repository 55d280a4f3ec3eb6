package formulary

import (
	"context"

	"github.com/google/uuid"
)

// Repository reads and writes formulary entries. Every read sees active
// entries only.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	FindByDrugAndPlan(ctx context.Context, drugID uuid.UUID, plan string) (*Entry, error)
	// List orders by plan then tier.
	List(ctx context.Context, limit, offset int) ([]*Entry, int, error)
	ListByPlan(ctx context.Context, plan string) ([]*Entry, error)
	ListByTier(ctx context.Context, tier string) ([]*Entry, error)
	// ListForDrugs returns the plan's entries for drugIDs, best tier first.
	ListForDrugs(ctx context.Context, drugIDs []uuid.UUID, plan string) ([]*Entry, error)
}
