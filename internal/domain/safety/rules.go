package safety

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
)

// line is one prescription item as seen by the rules.
type line struct {
	drug         *pharmacy.Drug
	instructions string
	factors      *PatientFactors
}

// rule is one category of item checks. applies gates the whole category on
// the patient profile; check produces zero or more alerts for one item.
type rule struct {
	category string
	applies  func(f *PatientFactors) bool
	check    func(c *Catalog, l line) []Alert
}

// itemRules run for every item, in this order.
var itemRules = []rule{
	{category: "age", applies: always, check: checkAge},
	{category: "renal", applies: func(f *PatientFactors) bool { return f.RenalFunction.impaired() }, check: checkRenal},
	{category: "hepatic", applies: func(f *PatientFactors) bool { return f.HepaticFunction.impaired() }, check: checkHepatic},
	{category: "pregnancy", applies: func(f *PatientFactors) bool { return f.Pregnancy }, check: checkPregnancy},
	{category: "breastfeeding", applies: func(f *PatientFactors) bool { return f.Breastfeeding }, check: checkBreastfeeding},
	{category: "weight", applies: func(f *PatientFactors) bool { return f.weightKg() > 0 }, check: checkWeight},
	{category: "comorbidity", applies: always, check: checkConditions},
	{category: "route", applies: always, check: checkRoute},
}

// Categories lists rule categories in evaluation order, prescription-level last.
func Categories() []string {
	out := make([]string, 0, len(itemRules)+1)
	for _, r := range itemRules {
		out = append(out, r.category)
	}
	return append(out, "polypharmacy")
}

func always(*PatientFactors) bool { return true }

// Escalation predicates.

func renalEscalates(r RenalFunction) bool {
	return r == RenalSevere || r == RenalDialysis
}

func hepaticEscalates(h HepaticFunction) bool {
	return h == HepaticSevere
}

func escalate(critical bool, base Severity) Severity {
	if critical {
		return SeverityCritical
	}
	return base
}

func formatMg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func checkAge(c *Catalog, l line) []Alert {
	var alerts []Alert
	t := c.Thresholds()
	age := l.factors.Age
	name := l.drug.GenericName

	if age < t.PediatricAge {
		if c.MatchesAny(ListPediatricContraindication, l.drug.Contraindications) {
			alerts = append(alerts, Alert{
				Type:           AlertPediatricContraindication,
				Severity:       SeverityCritical,
				Message:        name + " is contraindicated in pediatric patients",
				Recommendation: "Contact prescriber for alternative therapy",
			})
		}
		if age < t.ReyeSyndromeAge && c.Matches(ListReyeSyndrome, name) {
			alerts = append(alerts, Alert{
				Type:           AlertReyeSyndromeRisk,
				Severity:       SeverityCritical,
				Message:        "Aspirin use in children under 2 years increases Reye syndrome risk",
				Recommendation: "Do not dispense. Contact prescriber immediately.",
			})
		}
	}

	if age >= t.GeriatricAge {
		if c.Matches(ListBeers, name) {
			alerts = append(alerts, Alert{
				Type:           AlertBeersCriteria,
				Severity:       SeverityMajor,
				Message:        name + " is potentially inappropriate for elderly patients (Beers Criteria)",
				Recommendation: "Consider alternative therapy or reduced dosing",
			})
		}
		if c.Matches(ListGeriatricOpioid, name) && ParseDosage(l.instructions).DoseMg > t.GeriatricOpioidMaxMg {
			alerts = append(alerts, Alert{
				Type:           AlertGeriatricHighDose,
				Severity:       SeverityMajor,
				Message:        "High-dose opioid in elderly patient",
				Recommendation: "Verify dose appropriateness with prescriber",
			})
		}
	}
	return alerts
}

func checkRenal(c *Catalog, l line) []Alert {
	var alerts []Alert
	renal := l.factors.RenalFunction
	name := l.drug.GenericName

	if c.Matches(ListRenalAdjustment, name) {
		alerts = append(alerts, Alert{
			Type:           AlertRenalDoseAdjustment,
			Severity:       escalate(renalEscalates(renal), SeverityMajor),
			Message:        fmt.Sprintf("%s requires dose adjustment in %s renal impairment", name, renal),
			Recommendation: "Verify dose is appropriate for renal function",
		})
	}
	if renalEscalates(renal) && c.Matches(ListRenalContraindicated, name) {
		alerts = append(alerts, Alert{
			Type:           AlertRenalContraindication,
			Severity:       SeverityCritical,
			Message:        "Metformin is contraindicated in severe renal impairment",
			Recommendation: "Do not dispense. Contact prescriber for alternative.",
		})
	}
	return alerts
}

func checkHepatic(c *Catalog, l line) []Alert {
	var alerts []Alert
	hepatic := l.factors.HepaticFunction
	name := l.drug.GenericName

	if c.Matches(ListHepaticAdjustment, name) {
		alerts = append(alerts, Alert{
			Type:           AlertHepaticDoseAdjustment,
			Severity:       escalate(hepaticEscalates(hepatic), SeverityMajor),
			Message:        fmt.Sprintf("%s requires dose adjustment in %s hepatic impairment", name, hepatic),
			Recommendation: "Verify dose is appropriate for hepatic function",
		})
	}
	if c.Matches(ListHepaticDoseLimit, name) {
		limit := c.Thresholds().HepaticDailyMaxMg
		if daily := ParseDosage(l.instructions).DailyMg(); daily > limit {
			alerts = append(alerts, Alert{
				Type:     AlertHepaticDoseLimit,
				Severity: SeverityCritical,
				Message: fmt.Sprintf("Acetaminophen daily dose (%smg) exceeds safe limit for hepatic impairment (%smg)",
					formatMg(daily), formatMg(limit)),
				Recommendation: "Reduce dose or contact prescriber",
			})
		}
	}
	return alerts
}

func checkPregnancy(c *Catalog, l line) []Alert {
	var alerts []Alert
	name := l.drug.GenericName

	if c.Matches(ListPregnancyX, name) {
		alerts = append(alerts, Alert{
			Type:           AlertPregnancyContraindicated,
			Severity:       SeverityCritical,
			Message:        name + " is contraindicated in pregnancy",
			Recommendation: "Do not dispense. Contact prescriber immediately for alternative.",
		})
	}
	if c.Matches(ListPregnancyD, name) {
		alerts = append(alerts, Alert{
			Type:           AlertPregnancyRisk,
			Severity:       SeverityMajor,
			Message:        name + " has known pregnancy risks",
			Recommendation: "Verify risk/benefit assessment with prescriber",
		})
	}
	return alerts
}

func checkBreastfeeding(c *Catalog, l line) []Alert {
	if !c.Matches(ListBreastfeeding, l.drug.GenericName) {
		return nil
	}
	return []Alert{{
		Type:           AlertBreastfeedingContraindicated,
		Severity:       SeverityMajor,
		Message:        l.drug.GenericName + " is not recommended during breastfeeding",
		Recommendation: "Discuss alternatives with prescriber or temporary cessation of breastfeeding",
	}}
}

// checkWeight compares the parsed dose with weight times the mg/kg factor.
// A missing dose reads as 0 mg and so always deviates.
func checkWeight(c *Catalog, l line) []Alert {
	if !c.Matches(ListWeightBased, l.drug.GenericName) {
		return nil
	}
	t := c.Thresholds()
	weight := l.factors.weightKg()
	dose := ParseDosage(l.instructions).DoseMg
	expected := weight * t.WeightMgPerKg

	diff := dose - expected
	if diff < 0 {
		diff = -diff
	}
	if diff <= expected*t.WeightTolerance {
		return nil
	}
	return []Alert{{
		Type:     AlertWeightBasedDosing,
		Severity: SeverityMajor,
		Message: fmt.Sprintf("Enoxaparin dose (%smg) may not be appropriate for weight (%skg, expected ~%smg)",
			formatMg(dose), formatMg(weight), formatMg(expected)),
		Recommendation: "Verify weight-based dosing calculation",
	}}
}

// comorbidity pairs a condition synonym list with the drugs it rules against.
type comorbidity struct {
	conditions     TermList
	drugs          TermList
	alertType      string
	severity       Severity
	message        string
	recommendation string
}

var comorbidities = []comorbidity{
	{ListHeartFailureConditions, ListHeartFailureDrugs, AlertHeartFailure, SeverityMajor,
		"%s may worsen heart failure", "Consider alternative therapy"},
	{ListRespiratoryConditions, ListRespiratoryDrugs, AlertRespiratory, SeverityMajor,
		"%s may worsen respiratory condition", "Verify appropriateness with prescriber"},
	{ListDiabetesConditions, ListDiabetesDrugs, AlertDiabetesMonitoring, SeverityModerate,
		"%s may affect blood glucose control", "Counsel patient to monitor blood glucose closely"},
}

// checkConditions emits one alert per matching condition string, so two
// conditions naming the same disease produce two alerts.
func checkConditions(c *Catalog, l line) []Alert {
	var alerts []Alert
	name := l.drug.GenericName
	for _, cond := range l.factors.MedicalConditions {
		for _, cm := range comorbidities {
			if c.Matches(cm.conditions, cond) && c.Matches(cm.drugs, name) {
				alerts = append(alerts, Alert{
					Type:           cm.alertType,
					Severity:       cm.severity,
					Message:        fmt.Sprintf(cm.message, name),
					Recommendation: cm.recommendation,
				})
			}
		}
	}
	return alerts
}

func checkRoute(_ *Catalog, l line) []Alert {
	if l.drug.Route != "IV" || !strings.Contains(strings.ToLower(l.instructions), "oral") {
		return nil
	}
	return []Alert{{
		Type:           AlertRouteMismatch,
		Severity:       SeverityCritical,
		Message:        fmt.Sprintf("Route mismatch: %s is formulated for %s but prescribed for oral use", l.drug.GenericName, l.drug.Route),
		Recommendation: "Verify intended route with prescriber",
	}}
}

func checkPolypharmacy(c *Catalog, f *PatientFactors, items int) []Alert {
	t := c.Thresholds()
	if f.Age < t.GeriatricAge || items <= t.PolypharmacyMaxItems {
		return nil
	}
	return []Alert{{
		Type:           AlertPolypharmacy,
		Severity:       SeverityModerate,
		Message:        fmt.Sprintf("Multiple medications (%d) in elderly patient", items),
		Recommendation: "Review for potential drug interactions and medication optimization",
	}}
}
