package safety

import (
	"github.com/ehr/pharmacy/internal/domain/pharmacy"
)

// Validator evaluates prescriptions against a Catalog. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	catalog *Catalog
}

func NewValidator(catalog *Catalog) *Validator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Validator{catalog: catalog}
}

func (v *Validator) Catalog() *Catalog {
	return v.catalog
}

// Evaluate runs every item through the rule categories in order, then the
// prescription-level checks. Items without a loaded drug are skipped.
func (v *Validator) Evaluate(p *pharmacy.Prescription, factors PatientFactors) ValidationResult {
	var alerts []Alert
	for _, it := range p.Items {
		if it == nil || it.Drug == nil {
			continue
		}
		l := line{drug: it.Drug, instructions: it.DosageInstructions, factors: &factors}
		for _, r := range itemRules {
			if r.applies(&factors) {
				alerts = append(alerts, r.check(v.catalog, l)...)
			}
		}
	}
	alerts = append(alerts, checkPolypharmacy(v.catalog, &factors, len(p.Items))...)
	return newResult(alerts)
}

func notFoundResult() ValidationResult {
	return newResult([]Alert{{
		Type:           AlertPrescriptionNotFound,
		Severity:       SeverityCritical,
		Message:        "Prescription not found",
		Recommendation: "Verify prescription ID",
	}})
}
