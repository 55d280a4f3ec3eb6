package formulary

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
)

var (
	ErrNotFound  = errors.New("formulary entry not found")
	ErrDuplicate = errors.New("drug already has an active entry for this plan")
)

// Tiers, from preferred generic to specialty.
const (
	Tier1          = "tier_1"
	Tier2          = "tier_2"
	Tier3          = "tier_3"
	Tier4          = "tier_4"
	TierNotCovered = "not_covered"
)

const (
	StatusCovered       = "covered"
	StatusPriorAuth     = "prior_authorization"
	StatusStepTherapy   = "step_therapy"
	StatusQuantityLimit = "quantity_limit"
	StatusNotCovered    = "not_covered"
)

var validTiers = map[string]bool{
	Tier1: true, Tier2: true, Tier3: true, Tier4: true, TierNotCovered: true,
}

var validStatuses = map[string]bool{
	StatusCovered: true, StatusPriorAuth: true, StatusStepTherapy: true,
	StatusQuantityLimit: true, StatusNotCovered: true,
}

var validLimitPeriods = map[string]bool{
	"fill": true, "day": true, "week": true, "month": true, "year": true,
}

// Entry maps to the formulary_entry table. Drug is attached on reads.
type Entry struct {
	ID                    uuid.UUID      `db:"id" json:"id"`
	DrugID                uuid.UUID      `db:"drug_id" json:"drug_id"`
	Drug                  *pharmacy.Drug `db:"-" json:"drug,omitempty"`
	InsurancePlan         string         `db:"insurance_plan" json:"insurance_plan"`
	Tier                  string         `db:"tier" json:"tier"`
	Status                string         `db:"status" json:"status"`
	CopayAmount           *float64       `db:"copay_amount" json:"copay_amount,omitempty"`
	CoinsurancePercent    *float64       `db:"coinsurance_percent" json:"coinsurance_percent,omitempty"`
	DeductibleAmount      *float64       `db:"deductible_amount" json:"deductible_amount,omitempty"`
	QuantityLimit         *int           `db:"quantity_limit" json:"quantity_limit,omitempty"`
	QuantityLimitPeriod   *string        `db:"quantity_limit_period" json:"quantity_limit_period,omitempty"`
	PriorAuthCriteria     []string       `db:"prior_auth_criteria" json:"prior_auth_criteria"`
	StepTherapy           []string       `db:"step_therapy" json:"step_therapy"`
	PreferredAlternatives []uuid.UUID    `db:"preferred_alternatives" json:"preferred_alternatives"`
	Notes                 *string        `db:"notes" json:"notes,omitempty"`
	EffectiveDate         *time.Time     `db:"effective_date" json:"effective_date,omitempty"`
	ExpirationDate        *time.Time     `db:"expiration_date" json:"expiration_date,omitempty"`
	Active                bool           `db:"active" json:"active"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// Coverage is the answer to "does this plan pay for this drug".
type Coverage struct {
	IsCovered             bool        `json:"is_covered"`
	Tier                  string      `json:"tier,omitempty"`
	Status                string      `json:"status,omitempty"`
	CopayAmount           *float64    `json:"copay_amount,omitempty"`
	CoinsurancePercent    *float64    `json:"coinsurance_percent,omitempty"`
	RequiresPriorAuth     bool        `json:"requires_prior_auth"`
	RequiresStepTherapy   bool        `json:"requires_step_therapy"`
	HasQuantityLimit      bool        `json:"has_quantity_limit"`
	QuantityLimit         *int        `json:"quantity_limit,omitempty"`
	PreferredAlternatives []uuid.UUID `json:"preferred_alternatives,omitempty"`
}

type CostRequest struct {
	DrugID        uuid.UUID `json:"drug_id"`
	InsurancePlan string    `json:"insurance_plan"`
	Quantity      int       `json:"quantity"`
	// DrugCost defaults to the drug's unit cost times quantity.
	DrugCost *float64 `json:"drug_cost"`
}

type Cost struct {
	TotalCost            float64  `json:"total_cost"`
	InsurancePays        float64  `json:"insurance_pays"`
	PatientPays          float64  `json:"patient_pays"`
	Copay                *float64 `json:"copay,omitempty"`
	Coinsurance          *float64 `json:"coinsurance,omitempty"`
	Deductible           *float64 `json:"deductible,omitempty"`
	ExceedsQuantityLimit bool     `json:"exceeds_quantity_limit"`
}
