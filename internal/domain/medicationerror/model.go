package medicationerror

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("medication error not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("invalid request")
)

// Error types.
const (
	TypeWrongDrug        = "wrong_drug"
	TypeWrongDose        = "wrong_dose"
	TypeWrongPatient     = "wrong_patient"
	TypeWrongRoute       = "wrong_route"
	TypeWrongTime        = "wrong_time"
	TypeOmission         = "omission"
	TypeDuplicate        = "duplicate"
	TypeContraindication = "contraindication"
	TypeAllergy          = "allergy"
	TypeInteraction      = "interaction"
	TypeLabeling         = "labeling"
	TypeOther            = "other"
)

var errorTypes = []string{
	TypeWrongDrug, TypeWrongDose, TypeWrongPatient, TypeWrongRoute, TypeWrongTime, TypeOmission,
	TypeDuplicate, TypeContraindication, TypeAllergy, TypeInteraction, TypeLabeling, TypeOther,
}

// Severities, from no impact to fatal.
const (
	SeverityNearMiss     = "near_miss"
	SeverityNoHarm       = "no_harm"
	SeverityMinorHarm    = "minor_harm"
	SeverityModerateHarm = "moderate_harm"
	SeveritySevereHarm   = "severe_harm"
	SeverityDeath        = "death"
)

var severities = []string{
	SeverityNearMiss, SeverityNoHarm, SeverityMinorHarm, SeverityModerateHarm, SeveritySevereHarm, SeverityDeath,
}

func harmful(severity string) bool {
	switch severity {
	case SeverityMinorHarm, SeverityModerateHarm, SeveritySevereHarm, SeverityDeath:
		return true
	}
	return false
}

const (
	StatusOpen          = "open"
	StatusInvestigating = "investigating"
	StatusResolved      = "resolved"
	StatusClosed        = "closed"
)

var statuses = []string{StatusOpen, StatusInvestigating, StatusResolved, StatusClosed}

// closed is terminal; anything else may be closed directly.
var transitions = map[string]map[string]bool{
	StatusOpen:          {StatusInvestigating: true, StatusResolved: true, StatusClosed: true},
	StatusInvestigating: {StatusResolved: true, StatusClosed: true, StatusOpen: true},
	StatusResolved:      {StatusClosed: true, StatusInvestigating: true},
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// MedicationError maps to the medication_error table.
type MedicationError struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	ErrorNumber         string     `db:"error_number" json:"error_number"`
	ErrorType           string     `db:"error_type" json:"error_type"`
	Severity            string     `db:"severity" json:"severity"`
	Status              string     `db:"status" json:"status"`
	PrescriptionID      *uuid.UUID `db:"prescription_id" json:"prescription_id,omitempty"`
	DrugID              *uuid.UUID `db:"drug_id" json:"drug_id,omitempty"`
	DrugName            *string    `db:"drug_name" json:"drug_name,omitempty"`
	PatientID           *string    `db:"patient_id" json:"patient_id,omitempty"`
	PatientName         *string    `db:"patient_name" json:"patient_name,omitempty"`
	Description         string     `db:"description" json:"description"`
	ContributingFactors *string    `db:"contributing_factors" json:"contributing_factors,omitempty"`
	ReportedBy          string     `db:"reported_by" json:"reported_by"`
	ReporterRole        string     `db:"reporter_role" json:"reporter_role"`
	DiscoveredBy        *string    `db:"discovered_by" json:"discovered_by,omitempty"`
	CorrectiveActions   *string    `db:"corrective_actions" json:"corrective_actions,omitempty"`
	PreventiveActions   *string    `db:"preventive_actions" json:"preventive_actions,omitempty"`
	FollowUpActions     *string    `db:"follow_up_actions" json:"follow_up_actions,omitempty"`
	PatientNotified     bool       `db:"patient_notified" json:"patient_notified"`
	PrescriberNotified  bool       `db:"prescriber_notified" json:"prescriber_notified"`
	ReportedToFDA       bool       `db:"reported_to_fda" json:"reported_to_fda"`
	FDAReportNumber     *string    `db:"fda_report_number" json:"fda_report_number,omitempty"`
	ReportedToISMP      bool       `db:"reported_to_ismp" json:"reported_to_ismp"`
	OccurredAt          time.Time  `db:"occurred_at" json:"occurred_at"`
	ReportedAt          time.Time  `db:"reported_at" json:"reported_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalErrors            int     `json:"total_errors"`
	ErrorsByType           []Count `json:"errors_by_type"`
	ErrorsBySeverity       []Count `json:"errors_by_severity"`
	ErrorsByStatus         []Count `json:"errors_by_status"`
	NearMissRate           float64 `json:"near_miss_rate"`
	HarmfulErrorRate       float64 `json:"harmful_error_rate"`
	TopContributingFactors []Count `json:"top_contributing_factors"`
}

type MonthlyTrend struct {
	Month         string `json:"month"`
	TotalErrors   int    `json:"total_errors"`
	NearMisses    int    `json:"near_misses"`
	HarmfulErrors int    `json:"harmful_errors"`
}

// Digest summarises what needs attention: open errors and the last day's
// activity.
type Digest struct {
	OpenErrors  int        `json:"open_errors"`
	OpenHarmful int        `json:"open_harmful"`
	OldestOpen  *time.Time `json:"oldest_open,omitempty"`
	LastDay     *Stats     `json:"last_day"`
}
