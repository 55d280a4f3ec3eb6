package refill

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
)

var ErrIneligible = errors.New("refill not eligible")

const (
	controlledExpiryDays = 180
	standardExpiryDays   = 365
	defaultDaySupply     = 30
	earlyRefillFraction  = 0.75
	topDrugsLimit        = 10
)

// Refill maps to the prescription_refill table: one row per refill
// dispensed against an original prescription.
type Refill struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	OriginalPrescriptionID uuid.UUID  `db:"original_prescription_id" json:"original_prescription_id"`
	RefillPrescriptionID   uuid.UUID  `db:"refill_prescription_id" json:"refill_prescription_id"`
	RefillNumber           int        `db:"refill_number" json:"refill_number"`
	PharmacistID           string     `db:"pharmacist_id" json:"pharmacist_id"`
	PharmacistName         *string    `db:"pharmacist_name" json:"pharmacist_name,omitempty"`
	PatientRequestDate     *time.Time `db:"patient_request_date" json:"patient_request_date,omitempty"`
	Notes                  *string    `db:"notes" json:"notes,omitempty"`
	RefillDate             time.Time  `db:"refill_date" json:"refill_date"`

	RefillPrescription *pharmacy.Prescription `json:"refill_prescription,omitempty"`
}

// Request asks for a refill of an original prescription. RefillNumber is
// derived from the refills already used when zero.
type Request struct {
	OriginalPrescriptionID uuid.UUID  `json:"original_prescription_id"`
	PharmacistID           string     `json:"pharmacist_id"`
	PharmacistName         string     `json:"pharmacist_name"`
	RefillNumber           int        `json:"refill_number"`
	Notes                  string     `json:"notes"`
	PatientRequestDate     *time.Time `json:"patient_request_date"`
}

type Eligibility struct {
	IsEligible            bool    `json:"is_eligible"`
	Reason                string  `json:"reason,omitempty"`
	RefillsRemaining      int     `json:"refills_remaining"`
	DaysSinceLastFill     float64 `json:"days_since_last_fill"`
	IsControlledSubstance bool    `json:"is_controlled_substance"`
}

type DrugCount struct {
	DrugName string `json:"drug_name"`
	Count    int    `json:"count"`
}

type Stats struct {
	TotalRefills               int         `json:"total_refills"`
	RefillsByDrug              []DrugCount `json:"refills_by_drug"`
	AverageRefillIntervalDays  float64     `json:"average_refill_interval_days"`
	ControlledSubstanceRefills int         `json:"controlled_substance_refills"`
}
