package safety

import (
	"fmt"
)

// Severity grades an alert. The zero value is not a valid grade.
type Severity int

const (
	SeverityMinor Severity = iota + 1
	SeverityModerate
	SeverityMajor
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityMinor:    "minor",
	SeverityModerate: "moderate",
	SeverityMajor:    "major",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if s == 0 {
		return "none"
	}
	if n, ok := severityNames[s]; ok {
		return n
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

func ParseSeverity(s string) (Severity, error) {
	for sev, name := range severityNames {
		if name == s {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("invalid severity: %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	if _, ok := severityNames[s]; !ok {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Alert types.
const (
	AlertPrescriptionNotFound         = "prescription-not-found"
	AlertPediatricContraindication    = "pediatric-contraindication"
	AlertReyeSyndromeRisk             = "reye-syndrome-risk"
	AlertBeersCriteria                = "beers-criteria"
	AlertGeriatricHighDose            = "geriatric-high-dose"
	AlertRenalDoseAdjustment          = "renal-dose-adjustment"
	AlertRenalContraindication        = "renal-contraindication"
	AlertHepaticDoseAdjustment        = "hepatic-dose-adjustment"
	AlertHepaticDoseLimit             = "hepatic-dose-limit"
	AlertPregnancyContraindicated     = "pregnancy-contraindicated"
	AlertPregnancyRisk                = "pregnancy-risk"
	AlertBreastfeedingContraindicated = "breastfeeding-contraindicated"
	AlertWeightBasedDosing            = "weight-based-dosing"
	AlertHeartFailure                 = "heart-failure-contraindication"
	AlertRespiratory                  = "respiratory-contraindication"
	AlertDiabetesMonitoring           = "diabetes-monitoring"
	AlertRouteMismatch                = "route-mismatch"
	AlertPolypharmacy                 = "polypharmacy"
)

type Alert struct {
	Type           string   `json:"type"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

// ValidationResult is invalid exactly when one of its alerts is critical.
type ValidationResult struct {
	IsValid bool    `json:"isValid"`
	Alerts  []Alert `json:"alerts"`
}

func newResult(alerts []Alert) ValidationResult {
	if alerts == nil {
		alerts = []Alert{}
	}
	valid := true
	for _, a := range alerts {
		if a.Severity == SeverityCritical {
			valid = false
			break
		}
	}
	return ValidationResult{IsValid: valid, Alerts: alerts}
}

// MaxSeverity returns the highest grade present, or 0 for no alerts.
func (r ValidationResult) MaxSeverity() Severity {
	var highest Severity
	for _, a := range r.Alerts {
		if a.Severity > highest {
			highest = a.Severity
		}
	}
	return highest
}

type RenalFunction string

const (
	RenalNormal   RenalFunction = "normal"
	RenalMild     RenalFunction = "mild"
	RenalModerate RenalFunction = "moderate"
	RenalSevere   RenalFunction = "severe"
	RenalDialysis RenalFunction = "dialysis"
)

func (r RenalFunction) Valid() bool {
	switch r {
	case "", RenalNormal, RenalMild, RenalModerate, RenalSevere, RenalDialysis:
		return true
	}
	return false
}

// impaired is false for both unset and normal function.
func (r RenalFunction) impaired() bool {
	return r != "" && r != RenalNormal
}

type HepaticFunction string

const (
	HepaticNormal   HepaticFunction = "normal"
	HepaticMild     HepaticFunction = "mild"
	HepaticModerate HepaticFunction = "moderate"
	HepaticSevere   HepaticFunction = "severe"
)

func (h HepaticFunction) Valid() bool {
	switch h {
	case "", HepaticNormal, HepaticMild, HepaticModerate, HepaticSevere:
		return true
	}
	return false
}

func (h HepaticFunction) impaired() bool {
	return h != "" && h != HepaticNormal
}

// PatientFactors is the clinical profile a prescription is checked against.
// It is request input only and never stored.
type PatientFactors struct {
	Age               float64         `json:"age"`
	Weight            *float64        `json:"weight,omitempty"`
	Height            *float64        `json:"height,omitempty"`
	RenalFunction     RenalFunction   `json:"renalFunction,omitempty"`
	HepaticFunction   HepaticFunction `json:"hepaticFunction,omitempty"`
	Pregnancy         bool            `json:"pregnancy"`
	Breastfeeding     bool            `json:"breastfeeding"`
	Allergies         []string        `json:"allergies"`
	MedicalConditions []string        `json:"medicalConditions"`
}

func (f *PatientFactors) Validate() error {
	if f.Age < 0 {
		return fmt.Errorf("age must not be negative")
	}
	if f.Weight != nil && *f.Weight < 0 {
		return fmt.Errorf("weight must not be negative")
	}
	if f.Height != nil && *f.Height < 0 {
		return fmt.Errorf("height must not be negative")
	}
	if !f.RenalFunction.Valid() {
		return fmt.Errorf("invalid renalFunction: %s", f.RenalFunction)
	}
	if !f.HepaticFunction.Valid() {
		return fmt.Errorf("invalid hepaticFunction: %s", f.HepaticFunction)
	}
	return nil
}

// weightKg is zero when weight is absent.
func (f *PatientFactors) weightKg() float64 {
	if f.Weight == nil {
		return 0
	}
	return *f.Weight
}
