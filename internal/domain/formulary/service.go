package formulary

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
)

// DrugReader looks up drug reference data.
type DrugReader interface {
	GetDrug(ctx context.Context, id uuid.UUID) (*pharmacy.Drug, error)
}

type Service struct {
	entries Repository
	drugs   DrugReader
}

func NewService(entries Repository, drugs DrugReader) *Service {
	return &Service{entries: entries, drugs: drugs}
}

func validateEntry(e *Entry) error {
	if e.DrugID == uuid.Nil {
		return fmt.Errorf("drug_id is required")
	}
	e.InsurancePlan = strings.TrimSpace(e.InsurancePlan)
	if e.InsurancePlan == "" {
		return fmt.Errorf("insurance_plan is required")
	}
	if e.Tier == "" {
		e.Tier = Tier3
	}
	if !validTiers[e.Tier] {
		return fmt.Errorf("invalid tier: %s", e.Tier)
	}
	if e.Status == "" {
		e.Status = StatusCovered
	}
	if !validStatuses[e.Status] {
		return fmt.Errorf("invalid status: %s", e.Status)
	}
	if e.CopayAmount != nil && *e.CopayAmount < 0 {
		return fmt.Errorf("copay_amount must not be negative")
	}
	if e.CoinsurancePercent != nil && (*e.CoinsurancePercent < 0 || *e.CoinsurancePercent > 100) {
		return fmt.Errorf("coinsurance_percent must be between 0 and 100")
	}
	if e.DeductibleAmount != nil && *e.DeductibleAmount < 0 {
		return fmt.Errorf("deductible_amount must not be negative")
	}
	if e.QuantityLimit != nil && *e.QuantityLimit <= 0 {
		return fmt.Errorf("quantity_limit must be positive")
	}
	if e.QuantityLimitPeriod != nil && !validLimitPeriods[*e.QuantityLimitPeriod] {
		return fmt.Errorf("invalid quantity_limit_period: %s", *e.QuantityLimitPeriod)
	}
	if e.Status == StatusQuantityLimit && e.QuantityLimit == nil {
		return fmt.Errorf("quantity_limit is required for status %s", StatusQuantityLimit)
	}
	if e.EffectiveDate != nil && e.ExpirationDate != nil && e.ExpirationDate.Before(*e.EffectiveDate) {
		return fmt.Errorf("expiration_date must not be before effective_date")
	}
	for _, alt := range e.PreferredAlternatives {
		if alt == e.DrugID {
			return fmt.Errorf("a drug cannot be its own preferred alternative")
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, e *Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	d, err := s.drugs.GetDrug(ctx, e.DrugID)
	if err != nil {
		return err
	}
	e.Active = true
	if err := s.entries.Create(ctx, e); err != nil {
		return err
	}
	e.Drug = d
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachDrugs(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Update replaces the terms of an active entry. The drug cannot change.
func (s *Service) Update(ctx context.Context, e *Entry) error {
	existing, err := s.entries.GetByID(ctx, e.ID)
	if err != nil {
		return err
	}
	e.DrugID = existing.DrugID
	e.Active = existing.Active
	e.CreatedAt = existing.CreatedAt
	if err := validateEntry(e); err != nil {
		return err
	}
	if err := s.entries.Update(ctx, e); err != nil {
		return err
	}
	return s.attachDrugs(ctx, e)
}

// Remove deactivates an entry; it stays in the table for audit.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	return s.entries.Deactivate(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	items, total, err := s.entries.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, s.attachDrugs(ctx, items...)
}

func (s *Service) ByPlan(ctx context.Context, plan string) ([]*Entry, error) {
	items, err := s.entries.ListByPlan(ctx, plan)
	if err != nil {
		return nil, err
	}
	return items, s.attachDrugs(ctx, items...)
}

func (s *Service) ByTier(ctx context.Context, tier string) ([]*Entry, error) {
	if !validTiers[tier] {
		return nil, fmt.Errorf("invalid tier: %s", tier)
	}
	items, err := s.entries.ListByTier(ctx, tier)
	if err != nil {
		return nil, err
	}
	return items, s.attachDrugs(ctx, items...)
}

// attachDrugs loads each distinct drug once. Drugs that no longer exist are
// left unset.
func (s *Service) attachDrugs(ctx context.Context, entries ...*Entry) error {
	cache := map[uuid.UUID]*pharmacy.Drug{}
	for _, e := range entries {
		d, ok := cache[e.DrugID]
		if !ok {
			var err error
			d, err = s.drugs.GetDrug(ctx, e.DrugID)
			if err != nil && !errors.Is(err, pharmacy.ErrNotFound) {
				return fmt.Errorf("load drug %s: %w", e.DrugID, err)
			}
			cache[e.DrugID] = d
		}
		e.Drug = d
	}
	return nil
}

// lookup returns the active entry for a drug on a plan, or nil when the plan
// has none.
func (s *Service) lookup(ctx context.Context, drugID uuid.UUID, plan string) (*Entry, error) {
	e, err := s.entries.FindByDrugAndPlan(ctx, drugID, plan)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// CheckCoverage reports how a plan covers a drug. A drug missing from the
// plan's formulary is not covered.
func (s *Service) CheckCoverage(ctx context.Context, drugID uuid.UUID, plan string) (*Coverage, error) {
	e, err := s.lookup(ctx, drugID, plan)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return &Coverage{}, nil
	}
	return &Coverage{
		IsCovered:             e.Status != StatusNotCovered,
		Tier:                  e.Tier,
		Status:                e.Status,
		CopayAmount:           e.CopayAmount,
		CoinsurancePercent:    e.CoinsurancePercent,
		RequiresPriorAuth:     e.Status == StatusPriorAuth,
		RequiresStepTherapy:   e.Status == StatusStepTherapy,
		HasQuantityLimit:      e.Status == StatusQuantityLimit,
		QuantityLimit:         e.QuantityLimit,
		PreferredAlternatives: e.PreferredAlternatives,
	}, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	v = roundCents(v)
	return &v
}

// CalculateCost splits the cost of a fill between plan and patient. The
// patient pays copay, coinsurance and deductible, never more than the drug
// cost; uncovered drugs are paid in full by the patient.
func (s *Service) CalculateCost(ctx context.Context, req *CostRequest) (*Cost, error) {
	if req.DrugID == uuid.Nil {
		return nil, fmt.Errorf("drug_id is required")
	}
	if strings.TrimSpace(req.InsurancePlan) == "" {
		return nil, fmt.Errorf("insurance_plan is required")
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	var drugCost float64
	if req.DrugCost != nil {
		if *req.DrugCost < 0 {
			return nil, fmt.Errorf("drug_cost must not be negative")
		}
		drugCost = *req.DrugCost
	} else {
		d, err := s.drugs.GetDrug(ctx, req.DrugID)
		if err != nil {
			return nil, err
		}
		if d.UnitCost == nil {
			return nil, fmt.Errorf("drug_cost is required when the drug has no unit_cost")
		}
		drugCost = *d.UnitCost * float64(req.Quantity)
	}
	drugCost = roundCents(drugCost)

	e, err := s.lookup(ctx, req.DrugID, req.InsurancePlan)
	if err != nil {
		return nil, err
	}
	if e == nil || e.Status == StatusNotCovered {
		return &Cost{TotalCost: drugCost, PatientPays: drugCost}, nil
	}

	var copay, coinsurance, deductible float64
	if e.CopayAmount != nil {
		copay = *e.CopayAmount
	}
	if e.CoinsurancePercent != nil {
		coinsurance = drugCost * *e.CoinsurancePercent / 100
	}
	if e.DeductibleAmount != nil {
		deductible = math.Min(*e.DeductibleAmount, drugCost)
	}
	patientPays := roundCents(math.Min(copay+coinsurance+deductible, drugCost))

	return &Cost{
		TotalCost:            drugCost,
		InsurancePays:        roundCents(drugCost - patientPays),
		PatientPays:          patientPays,
		Copay:                positive(copay),
		Coinsurance:          positive(coinsurance),
		Deductible:           positive(deductible),
		ExceedsQuantityLimit: e.QuantityLimit != nil && req.Quantity > *e.QuantityLimit,
	}, nil
}

// Alternatives lists the plan's entries for the drug's preferred
// alternatives, best tier first.
func (s *Service) Alternatives(ctx context.Context, drugID uuid.UUID, plan string) ([]*Entry, error) {
	e, err := s.lookup(ctx, drugID, plan)
	if err != nil {
		return nil, err
	}
	if e == nil || len(e.PreferredAlternatives) == 0 {
		return []*Entry{}, nil
	}
	items, err := s.entries.ListForDrugs(ctx, e.PreferredAlternatives, plan)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Entry{}
	}
	return items, s.attachDrugs(ctx, items...)
}
