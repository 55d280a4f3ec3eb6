package pharmacy

import (
	"context"

	"github.com/google/uuid"
)

type DrugRepository interface {
	Create(ctx context.Context, d *Drug) error
	GetByID(ctx context.Context, id uuid.UUID) (*Drug, error)
	Update(ctx context.Context, d *Drug) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Drug, int, error)
}

type PrescriptionRepository interface {
	// Create inserts the prescription and its items atomically.
	Create(ctx context.Context, p *Prescription) error
	// GetByID returns the prescription with items ordered by position and
	// each item's drug attached.
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Update(ctx context.Context, p *Prescription) error
	// ConsumeRefill decrements refills_remaining only while it is positive
	// and returns the new count, or ErrNoRefillsLeft.
	ConsumeRefill(ctx context.Context, id uuid.UUID) (int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Prescription, int, error)
}
