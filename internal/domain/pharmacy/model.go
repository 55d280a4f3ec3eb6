package pharmacy

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateNumber   = errors.New("prescription number already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoRefillsLeft     = errors.New("no refills remaining")
)

const ScheduleNone = "non-controlled"

// Drug maps to the drug table. Rows are reference data: prescriptions point at
// them and safety rules read them, nothing here mutates one after dispensing.
type Drug struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	GenericName           string    `db:"generic_name" json:"generic_name"`
	BrandName             *string   `db:"brand_name" json:"brand_name,omitempty"`
	Strength              *string   `db:"strength" json:"strength,omitempty"`
	DosageForm            *string   `db:"dosage_form" json:"dosage_form,omitempty"`
	Route                 string    `db:"route" json:"route"`
	ControlledSchedule    string    `db:"controlled_schedule" json:"controlled_schedule"`
	Contraindications     []string  `db:"contraindications" json:"contraindications"`
	SideEffects           *string   `db:"side_effects" json:"side_effects,omitempty"`
	RequiresRefrigeration bool      `db:"requires_refrigeration" json:"requires_refrigeration"`
	IsHazardous           bool      `db:"is_hazardous" json:"is_hazardous"`
	UnitCost              *float64  `db:"unit_cost" json:"unit_cost,omitempty"`
	Active                bool      `db:"active" json:"active"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

func (d *Drug) IsControlled() bool {
	return d.ControlledSchedule != "" && d.ControlledSchedule != ScheduleNone
}

// Prescription maps to the prescription table. Items are loaded with their
// drugs by the repository.
type Prescription struct {
	ID                     uuid.UUID           `db:"id" json:"id"`
	PrescriptionNumber     string              `db:"prescription_number" json:"prescription_number"`
	PatientID              string              `db:"patient_id" json:"patient_id"`
	PatientName            string              `db:"patient_name" json:"patient_name"`
	PrescriberID           string              `db:"prescriber_id" json:"prescriber_id"`
	PrescriberName         *string             `db:"prescriber_name" json:"prescriber_name,omitempty"`
	PrescriptionDate       time.Time           `db:"prescription_date" json:"prescription_date"`
	Status                 string              `db:"status" json:"status"`
	RefillsAllowed         int                 `db:"refills_allowed" json:"refills_allowed"`
	RefillsRemaining       int                 `db:"refills_remaining" json:"refills_remaining"`
	RequiresCounseling     bool                `db:"requires_counseling" json:"requires_counseling"`
	OriginalPrescriptionID *uuid.UUID          `db:"original_prescription_id" json:"original_prescription_id,omitempty"`
	Notes                  *string             `db:"notes" json:"notes,omitempty"`
	DispensedAt            *time.Time          `db:"dispensed_at" json:"dispensed_at,omitempty"`
	Items                  []*PrescriptionItem `json:"items"`
	CreatedAt              time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time           `db:"updated_at" json:"updated_at"`
}

// HasControlledSubstance reports whether any loaded item is a scheduled drug.
func (p *Prescription) HasControlledSubstance() bool {
	for _, it := range p.Items {
		if it.Drug != nil && it.Drug.IsControlled() {
			return true
		}
	}
	return false
}

// PrescriptionItem maps to the prescription_item table.
type PrescriptionItem struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	PrescriptionID     uuid.UUID `db:"prescription_id" json:"prescription_id"`
	Position           int       `db:"position" json:"position"`
	DrugID             uuid.UUID `db:"drug_id" json:"drug_id"`
	Drug               *Drug     `json:"drug,omitempty"`
	DosageInstructions string    `db:"dosage_instructions" json:"dosage_instructions"`
	QuantityPrescribed float64   `db:"quantity_prescribed" json:"quantity_prescribed"`
	QuantityDispensed  float64   `db:"quantity_dispensed" json:"quantity_dispensed"`
	DaySupply          *int      `db:"day_supply" json:"day_supply,omitempty"`
}
