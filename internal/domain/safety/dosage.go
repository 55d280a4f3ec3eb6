package safety

import (
	"regexp"
	"strconv"
)

var (
	doseRe      = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*mg`)
	frequencyRe = regexp.MustCompile(`(?i)(\d+)\s*times?\s*(?:per\s*)?day|every\s*(\d+)\s*hours?`)
)

// Dosage is what could be read out of free-text dosage instructions.
type Dosage struct {
	DoseMg         float64 // per administration; 0 when not found
	DoseFound      bool
	PerDay         float64 // administrations per day; 1 when not found
	FrequencyFound bool
}

// DailyMg is the per-administration dose times administrations per day.
func (d Dosage) DailyMg() float64 {
	return d.DoseMg * d.PerDay
}

// ParseDosage extracts the first "<number> mg" dose and either an
// "N times (per) day" or "every N hours" frequency. It never fails: text it
// cannot read yields a dose of 0 and one administration per day.
func ParseDosage(instructions string) Dosage {
	d := Dosage{PerDay: 1}

	if m := doseRe.FindStringSubmatch(instructions); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			d.DoseMg, d.DoseFound = v, true
		}
	}

	if m := frequencyRe.FindStringSubmatch(instructions); m != nil {
		switch {
		case m[1] != "":
			if n, err := strconv.Atoi(m[1]); err == nil {
				d.PerDay, d.FrequencyFound = float64(n), true
			}
		case m[2] != "":
			// every 0 hours has no meaning; keep the default.
			if n, err := strconv.Atoi(m[2]); err == nil && n > 0 {
				d.PerDay, d.FrequencyFound = 24/float64(n), true
			}
		}
	}
	return d
}
