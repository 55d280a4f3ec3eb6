package safety

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseDosage(t *testing.T) {
	tests := []struct {
		in   string
		want Dosage
	}{
		{"650 mg every 6 hours", Dosage{DoseMg: 650, DoseFound: true, PerDay: 4, FrequencyFound: true}},
		{"500mg 3 times per day", Dosage{DoseMg: 500, DoseFound: true, PerDay: 3, FrequencyFound: true}},
		{"Take 1000 MG 2 times a day", Dosage{DoseMg: 1000, DoseFound: true, PerDay: 1}},
		{"1.5mg 1 time day", Dosage{DoseMg: 1.5, DoseFound: true, PerDay: 1, FrequencyFound: true}},
		{"2 tablets (10 mg) every 8 hours", Dosage{DoseMg: 10, DoseFound: true, PerDay: 3, FrequencyFound: true}},
		{"EVERY 12 HOURS inject 80mg", Dosage{DoseMg: 80, DoseFound: true, PerDay: 2, FrequencyFound: true}},
		{"1 tablet by mouth twice daily", Dosage{PerDay: 1}},
		{"every 0 hours 5mg", Dosage{DoseMg: 5, DoseFound: true, PerDay: 1}},
		{"", Dosage{PerDay: 1}},
		{"mg mg every hours", Dosage{PerDay: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseDosage(tt.in)); diff != "" {
				t.Errorf("ParseDosage(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestDosage_DailyMg(t *testing.T) {
	if got := ParseDosage("650 mg every 6 hours").DailyMg(); got != 2600 {
		t.Errorf("expected 2600, got %v", got)
	}
	if got := ParseDosage("325mg").DailyMg(); got != 325 {
		t.Errorf("expected single daily administration, got %v", got)
	}
	if got := ParseDosage("every 4 hours").DailyMg(); got != 0 {
		t.Errorf("expected 0 without a dose, got %v", got)
	}
}
