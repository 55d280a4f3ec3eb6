package safety

import (
	"fmt"
	"sort"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"github.com/spf13/viper"
)

// TermList names one list of matchable terms in a Catalog.
type TermList string

const (
	ListPediatricContraindication TermList = "pediatric_contraindication" // matched against contraindication text
	ListReyeSyndrome              TermList = "reye_syndrome"
	ListBeers                     TermList = "beers"
	ListGeriatricOpioid           TermList = "geriatric_opioid"
	ListRenalAdjustment           TermList = "renal_adjustment"
	ListRenalContraindicated      TermList = "renal_contraindicated"
	ListHepaticAdjustment         TermList = "hepatic_adjustment"
	ListHepaticDoseLimit          TermList = "hepatic_dose_limit"
	ListPregnancyX                TermList = "pregnancy_category_x"
	ListPregnancyD                TermList = "pregnancy_category_d"
	ListBreastfeeding             TermList = "breastfeeding_contraindicated"
	ListWeightBased               TermList = "weight_based"
	ListHeartFailureConditions    TermList = "heart_failure_conditions" // matched against condition text
	ListHeartFailureDrugs         TermList = "heart_failure_drugs"
	ListRespiratoryConditions     TermList = "respiratory_conditions"
	ListRespiratoryDrugs          TermList = "respiratory_drugs"
	ListDiabetesConditions        TermList = "diabetes_conditions"
	ListDiabetesDrugs             TermList = "diabetes_drugs"
)

var defaultTerms = map[TermList][]string{
	ListPediatricContraindication: {"pediatric", "children"},
	ListReyeSyndrome:              {"aspirin"},
	ListBeers: {
		"diphenhydramine", "hydroxyzine", "promethazine", "diazepam", "lorazepam",
		"alprazolam", "zolpidem", "eszopiclone", "amitriptyline", "doxepin",
	},
	ListGeriatricOpioid: {"morphine"},
	ListRenalAdjustment: {
		"metformin", "gabapentin", "pregabalin", "atenolol", "digoxin",
		"lithium", "vancomycin", "gentamicin", "tobramycin", "amikacin",
	},
	ListRenalContraindicated: {"metformin"},
	ListHepaticAdjustment: {
		"warfarin", "phenytoin", "carbamazepine", "valproic acid", "propranolol",
		"morphine", "codeine", "tramadol", "acetaminophen",
	},
	ListHepaticDoseLimit: {"acetaminophen"},
	ListPregnancyX: {
		"warfarin", "isotretinoin", "thalidomide", "methotrexate", "misoprostol",
		"finasteride", "dutasteride", "atorvastatin", "simvastatin",
	},
	ListPregnancyD: {
		"phenytoin", "carbamazepine", "valproic acid", "lithium", "atenolol",
		"lisinopril", "losartan", "tetracycline", "doxycycline",
	},
	ListBreastfeeding: {
		"lithium", "amiodarone", "chloramphenicol", "tetracycline", "ciprofloxacin",
		"metronidazole", "ergotamine", "bromocriptine",
	},
	ListWeightBased:            {"enoxaparin"},
	ListHeartFailureConditions: {"heart failure", "chf"},
	ListHeartFailureDrugs:      {"verapamil", "diltiazem", "nifedipine", "ibuprofen", "naproxen"},
	ListRespiratoryConditions:  {"asthma", "copd"},
	ListRespiratoryDrugs:       {"propranolol", "atenolol", "metoprolol", "aspirin"},
	ListDiabetesConditions:     {"diabetes"},
	ListDiabetesDrugs:          {"prednisone", "prednisolone", "hydrochlorothiazide"},
}

// Thresholds are the numeric cut-offs used by the rules.
type Thresholds struct {
	PediatricAge         float64 `mapstructure:"pediatric_age" json:"pediatric_age"`
	ReyeSyndromeAge      float64 `mapstructure:"reye_syndrome_age" json:"reye_syndrome_age"`
	GeriatricAge         float64 `mapstructure:"geriatric_age" json:"geriatric_age"`
	GeriatricOpioidMaxMg float64 `mapstructure:"geriatric_opioid_max_mg" json:"geriatric_opioid_max_mg"`
	HepaticDailyMaxMg    float64 `mapstructure:"hepatic_daily_max_mg" json:"hepatic_daily_max_mg"`
	WeightMgPerKg        float64 `mapstructure:"weight_mg_per_kg" json:"weight_mg_per_kg"`
	WeightTolerance      float64 `mapstructure:"weight_tolerance" json:"weight_tolerance"`
	PolypharmacyMaxItems int     `mapstructure:"polypharmacy_max_items" json:"polypharmacy_max_items"`
}

var defaultThresholds = Thresholds{
	PediatricAge:         18,
	ReyeSyndromeAge:      2,
	GeriatricAge:         65,
	GeriatricOpioidMaxMg: 30,
	HepaticDailyMaxMg:    2000,
	WeightMgPerKg:        1,
	WeightTolerance:      0.2,
	PolypharmacyMaxItems: 5,
}

// Catalog is the rule data: term lists plus thresholds. It is built once
// and only read afterwards, so one value can be shared by all validations.
type Catalog struct {
	terms      map[TermList][]string
	thresholds Thresholds
}

// DefaultCatalog returns the built-in rule tables.
func DefaultCatalog() *Catalog {
	c := &Catalog{terms: make(map[TermList][]string, len(defaultTerms)), thresholds: defaultThresholds}
	for list, terms := range defaultTerms {
		c.terms[list] = normalizeTerms(terms)
	}
	return c
}

// normalizeTerms lower-cases, trims and de-duplicates terms.
func normalizeTerms(terms []string) []string {
	set := stringset.New()
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			set.Add(t)
		}
	}
	return set.Elements()
}

func (c *Catalog) Terms(list TermList) []string {
	return c.terms[list]
}

func (c *Catalog) Thresholds() Thresholds {
	return c.thresholds
}

// Matches reports whether any term of list occurs in text, ignoring case.
func (c *Catalog) Matches(list TermList, text string) bool {
	text = strings.ToLower(text)
	for _, term := range c.terms[list] {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// MatchesAny is Matches over several texts.
func (c *Catalog) MatchesAny(list TermList, texts []string) bool {
	for _, t := range texts {
		if c.Matches(list, t) {
			return true
		}
	}
	return false
}

// LoadCatalog reads a YAML, JSON or TOML file and applies it on top of the
// defaults. Terms under "terms" are added to the named lists; keys under
// "thresholds" replace the default values. An empty path returns the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read safety rules %s: %w", path, err)
	}

	var terms map[string][]string
	if err := v.UnmarshalKey("terms", &terms); err != nil {
		return nil, fmt.Errorf("decode safety rules %s: %w", path, err)
	}
	for name, extra := range terms {
		list := TermList(strings.ToLower(name))
		if _, ok := defaultTerms[list]; !ok {
			return nil, fmt.Errorf("safety rules %s: unknown term list %q", path, name)
		}
		c.terms[list] = normalizeTerms(append(append([]string{}, c.terms[list]...), extra...))
	}

	if v.IsSet("thresholds") {
		t := c.thresholds
		if err := v.UnmarshalKey("thresholds", &t); err != nil {
			return nil, fmt.Errorf("decode safety thresholds %s: %w", path, err)
		}
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("safety rules %s: %w", path, err)
		}
		c.thresholds = t
	}
	return c, nil
}

func (t Thresholds) validate() error {
	if t.PediatricAge < 0 || t.ReyeSyndromeAge < 0 || t.GeriatricAge < 0 {
		return fmt.Errorf("age thresholds must not be negative")
	}
	if t.GeriatricOpioidMaxMg <= 0 || t.HepaticDailyMaxMg <= 0 || t.WeightMgPerKg <= 0 {
		return fmt.Errorf("dose thresholds must be positive")
	}
	if t.WeightTolerance < 0 || t.WeightTolerance >= 1 {
		return fmt.Errorf("weight_tolerance must be in [0, 1)")
	}
	if t.PolypharmacyMaxItems < 1 {
		return fmt.Errorf("polypharmacy_max_items must be at least 1")
	}
	return nil
}

// CatalogView is the JSON form returned by the rules endpoint and CLI.
type CatalogView struct {
	Terms      map[TermList][]string `json:"terms"`
	Thresholds Thresholds            `json:"thresholds"`
}

func (c *Catalog) View() CatalogView {
	lists := make([]TermList, 0, len(c.terms))
	for l := range c.terms {
		lists = append(lists, l)
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i] < lists[j] })

	view := CatalogView{Terms: make(map[TermList][]string, len(lists)), Thresholds: c.thresholds}
	for _, l := range lists {
		view.Terms[l] = append([]string(nil), c.terms[l]...)
	}
	return view
}
