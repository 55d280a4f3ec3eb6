package refill

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
	"github.com/ehr/pharmacy/pkg/daterange"
)

var testNow = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

// -- Mocks --

type mockPrescriptionRepo struct {
	items    map[uuid.UUID]*pharmacy.Prescription
	consumes int
	// beforeConsume runs ahead of the conditional decrement, standing in
	// for another transaction that committed first.
	beforeConsume func()
}

func newMockPrescriptionRepo() *mockPrescriptionRepo {
	return &mockPrescriptionRepo{items: make(map[uuid.UUID]*pharmacy.Prescription)}
}

func (m *mockPrescriptionRepo) Create(_ context.Context, p *pharmacy.Prescription) error {
	for _, existing := range m.items {
		if existing.PrescriptionNumber == p.PrescriptionNumber {
			return pharmacy.ErrDuplicateNumber
		}
	}
	p.ID = uuid.New()
	for i, it := range p.Items {
		it.ID = uuid.New()
		it.PrescriptionID = p.ID
		it.Position = i
	}
	m.items[p.ID] = p
	return nil
}

func (m *mockPrescriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*pharmacy.Prescription, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, pharmacy.ErrNotFound
	}
	return p, nil
}

func (m *mockPrescriptionRepo) Update(_ context.Context, p *pharmacy.Prescription) error {
	if _, ok := m.items[p.ID]; !ok {
		return pharmacy.ErrNotFound
	}
	m.items[p.ID] = p
	return nil
}

func (m *mockPrescriptionRepo) ConsumeRefill(_ context.Context, id uuid.UUID) (int, error) {
	if m.beforeConsume != nil {
		m.beforeConsume()
	}
	p, ok := m.items[id]
	if !ok {
		return 0, pharmacy.ErrNotFound
	}
	if p.RefillsRemaining <= 0 {
		return 0, pharmacy.ErrNoRefillsLeft
	}
	m.consumes++
	p.RefillsRemaining--
	return p.RefillsRemaining, nil
}

func (m *mockPrescriptionRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*pharmacy.Prescription, int, error) {
	var result []*pharmacy.Prescription
	for _, p := range m.items {
		if v := params["patient_id"]; v != "" && p.PatientID != v {
			continue
		}
		if v := params["status"]; v != "" && p.Status != v {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PrescriptionDate.After(result[j].PrescriptionDate) })
	total := len(result)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return result[offset:end], total, nil
}

type mockRefillRepo struct {
	refills   []*Refill
	createErr error
}

func (m *mockRefillRepo) Create(_ context.Context, f *Refill) error {
	if m.createErr != nil {
		return m.createErr
	}
	f.ID = uuid.New()
	if f.RefillDate.IsZero() {
		f.RefillDate = testNow.Add(time.Duration(len(m.refills)) * time.Hour)
	}
	m.refills = append(m.refills, f)
	return nil
}

func (m *mockRefillRepo) newestFirst(keep func(*Refill) bool) []*Refill {
	var out []*Refill
	for _, f := range m.refills {
		if keep(f) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RefillDate.After(out[j].RefillDate) })
	return out
}

func (m *mockRefillRepo) ListByOriginal(_ context.Context, id uuid.UUID) ([]*Refill, error) {
	return m.newestFirst(func(f *Refill) bool { return f.OriginalPrescriptionID == id }), nil
}

func (m *mockRefillRepo) ListByPatient(_ context.Context, patientID string) ([]*Refill, error) {
	return nil, nil
}

func (m *mockRefillRepo) ListInRange(_ context.Context, r daterange.Range) ([]*Refill, error) {
	return m.newestFirst(func(f *Refill) bool { return r.Contains(f.RefillDate) }), nil
}

func directTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *mockPrescriptionRepo, *mockRefillRepo) {
	rxs := newMockPrescriptionRepo()
	refills := &mockRefillRepo{}
	svc := NewService(refills, rxs, directTx, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc, rxs, refills
}

func intPtr(v int) *int { return &v }

func addPrescription(rxs *mockPrescriptionRepo, schedule string, age time.Duration, remaining int, daySupply *int) *pharmacy.Prescription {
	drugID := uuid.New()
	dispensed := testNow.Add(-age)
	p := &pharmacy.Prescription{
		ID:                 uuid.New(),
		PrescriptionNumber: "RX-" + strings.ToUpper(uuid.NewString()[:8]),
		PatientID:          "patient-1",
		PatientName:        "Jordan Reyes",
		PrescriberID:       "dr-1",
		PrescriptionDate:   testNow.Add(-age),
		Status:             pharmacy.StatusDispensed,
		RefillsAllowed:     3,
		RefillsRemaining:   remaining,
		RequiresCounseling: schedule != pharmacy.ScheduleNone,
		DispensedAt:        &dispensed,
		Items: []*pharmacy.PrescriptionItem{{
			ID:                 uuid.New(),
			DrugID:             drugID,
			Drug:               &pharmacy.Drug{ID: drugID, GenericName: "drug-" + schedule, ControlledSchedule: schedule},
			DosageInstructions: "10 mg daily",
			QuantityPrescribed: 30,
			QuantityDispensed:  30,
			DaySupply:          daySupply,
		}},
	}
	rxs.items[p.ID] = p
	return p
}

// -- Eligibility --

func TestCheckEligibility(t *testing.T) {
	svc, rxs, refills := newTestService()
	ctx := context.Background()

	fresh := addPrescription(rxs, pharmacy.ScheduleNone, 10*day, 2, nil)
	none := addPrescription(rxs, pharmacy.ScheduleNone, 10*day, 0, nil)
	oldStandard := addPrescription(rxs, pharmacy.ScheduleNone, 366*day, 2, nil)
	oldControlled := addPrescription(rxs, "CII", 181*day, 2, nil)
	agingControlled := addPrescription(rxs, "CIV", 170*day, 2, nil)
	earlyControlled := addPrescription(rxs, "CII", 40*day, 2, intPtr(30))
	refills.refills = append(refills.refills, &Refill{
		ID: uuid.New(), OriginalPrescriptionID: earlyControlled.ID, RefillNumber: 1, RefillDate: testNow.Add(-20 * day),
	})

	tests := []struct {
		name   string
		id     uuid.UUID
		want   bool
		reason string
	}{
		{"eligible", fresh.ID, true, ""},
		{"not found", uuid.New(), false, "Prescription not found"},
		{"no refills", none.ID, false, "No refills remaining"},
		{"standard expired", oldStandard.ID, false, "Prescription expired (366 days old, limit: 365 days)"},
		{"controlled expired", oldControlled.ID, false, "Prescription expired (181 days old, limit: 180 days)"},
		{"controlled within six months", agingControlled.ID, true, ""},
		{"controlled too early", earlyControlled.ID, false, "Too early for controlled substance refill (20 days since last fill, minimum: 22 days)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el, err := svc.CheckEligibility(ctx, tt.id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if el.IsEligible != tt.want || el.Reason != tt.reason {
				t.Errorf("got eligible=%v reason=%q, want %v %q", el.IsEligible, el.Reason, tt.want, tt.reason)
			}
		})
	}

	el, _ := svc.CheckEligibility(ctx, fresh.ID)
	if el.DaysSinceLastFill != 10 || el.IsControlledSubstance {
		t.Errorf("expected 10 days since dispensing, got %+v", el)
	}
}

func TestCheckEligibility_ControlledAfterWindow(t *testing.T) {
	svc, rxs, refills := newTestService()
	p := addPrescription(rxs, "CII", 60*day, 2, nil)
	refills.refills = append(refills.refills, &Refill{
		ID: uuid.New(), OriginalPrescriptionID: p.ID, RefillNumber: 1, RefillDate: testNow.Add(-22 * day),
	})

	el, err := svc.CheckEligibility(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !el.IsEligible || !el.IsControlledSubstance || el.DaysSinceLastFill != 22 {
		t.Errorf("expected eligible after 22 of 30 days, got %+v", el)
	}
}

// -- Create --

func TestCreateRefill(t *testing.T) {
	svc, rxs, refills := newTestService()
	orig := addPrescription(rxs, pharmacy.ScheduleNone, 30*day, 3, intPtr(30))

	got, err := svc.CreateRefill(context.Background(), &Request{
		OriginalPrescriptionID: orig.ID,
		PharmacistID:           "pharm-1",
		PharmacistName:         "Sam Ortiz",
		Notes:                  "patient called",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.PrescriptionNumber != orig.PrescriptionNumber+"-R1" {
		t.Errorf("unexpected number %s", got.PrescriptionNumber)
	}
	if got.Status != pharmacy.StatusPending || got.RefillsAllowed != 0 || got.RefillsRemaining != 0 {
		t.Errorf("unexpected refill prescription %+v", got)
	}
	if got.OriginalPrescriptionID == nil || *got.OriginalPrescriptionID != orig.ID {
		t.Error("refill should point at the original")
	}
	if want := "Refill #1 of prescription " + orig.PrescriptionNumber + ". patient called"; got.Notes == nil || *got.Notes != want {
		t.Errorf("unexpected notes %v", got.Notes)
	}
	if !got.PrescriptionDate.Equal(testNow) {
		t.Errorf("expected prescription date %v, got %v", testNow, got.PrescriptionDate)
	}
	if len(got.Items) != 1 || got.Items[0].QuantityDispensed != 0 || got.Items[0].DrugID != orig.Items[0].DrugID {
		t.Errorf("items not copied: %+v", got.Items)
	}
	if got.Items[0].ID == orig.Items[0].ID {
		t.Error("items must be new rows")
	}

	if orig.RefillsRemaining != 2 || rxs.consumes != 1 {
		t.Errorf("expected original decremented once, remaining=%d consumes=%d", orig.RefillsRemaining, rxs.consumes)
	}
	if len(refills.refills) != 1 {
		t.Fatalf("expected one refill log, got %d", len(refills.refills))
	}
	log := refills.refills[0]
	if log.RefillPrescriptionID != got.ID || log.RefillNumber != 1 || *log.PharmacistName != "Sam Ortiz" {
		t.Errorf("unexpected refill log %+v", log)
	}
}

func TestCreateRefill_ExplicitNumber(t *testing.T) {
	svc, rxs, _ := newTestService()
	orig := addPrescription(rxs, pharmacy.ScheduleNone, 30*day, 1, nil)

	got, err := svc.CreateRefill(context.Background(), &Request{OriginalPrescriptionID: orig.ID, PharmacistID: "p", RefillNumber: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(got.PrescriptionNumber, "-R3") {
		t.Errorf("unexpected number %s", got.PrescriptionNumber)
	}
	if got.Notes == nil || *got.Notes != "Refill #3 of prescription "+orig.PrescriptionNumber+"." {
		t.Errorf("unexpected notes %q", *got.Notes)
	}
}

func TestCreateRefill_Ineligible(t *testing.T) {
	svc, rxs, refills := newTestService()
	orig := addPrescription(rxs, pharmacy.ScheduleNone, 30*day, 0, nil)

	_, err := svc.CreateRefill(context.Background(), &Request{OriginalPrescriptionID: orig.ID, PharmacistID: "p"})
	if !errors.Is(err, ErrIneligible) || !strings.Contains(err.Error(), "No refills remaining") {
		t.Fatalf("expected ErrIneligible, got %v", err)
	}
	if len(rxs.items) != 1 || len(refills.refills) != 0 {
		t.Error("nothing should be written for an ineligible refill")
	}
}

func TestCreateRefill_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateRefill(ctx, &Request{PharmacistID: "p"}); err == nil {
		t.Error("expected error for missing prescription")
	}
	if _, err := svc.CreateRefill(ctx, &Request{OriginalPrescriptionID: uuid.New()}); err == nil {
		t.Error("expected error for missing pharmacist")
	}
	if _, err := svc.CreateRefill(ctx, &Request{OriginalPrescriptionID: uuid.New(), PharmacistID: "p"}); !errors.Is(err, pharmacy.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRefill_LogFailureStopsUpdate(t *testing.T) {
	svc, rxs, refills := newTestService()
	orig := addPrescription(rxs, pharmacy.ScheduleNone, 30*day, 2, nil)
	refills.createErr = errors.New("insert failed")

	if _, err := svc.CreateRefill(context.Background(), &Request{OriginalPrescriptionID: orig.ID, PharmacistID: "p"}); err == nil {
		t.Fatal("expected error")
	}
	if orig.RefillsRemaining != 2 || rxs.consumes != 0 {
		t.Error("original must not be decremented when the log fails")
	}
}

func TestCreateRefill_LastRefillTakenConcurrently(t *testing.T) {
	svc, rxs, _ := newTestService()
	orig := addPrescription(rxs, pharmacy.ScheduleNone, 30*day, 1, nil)
	rxs.beforeConsume = func() { orig.RefillsRemaining = 0 }

	_, err := svc.CreateRefill(context.Background(), &Request{OriginalPrescriptionID: orig.ID, PharmacistID: "p", RefillNumber: 2})
	if !errors.Is(err, ErrIneligible) || !strings.Contains(err.Error(), "No refills remaining") {
		t.Fatalf("expected ErrIneligible, got %v", err)
	}
	if orig.RefillsRemaining != 0 || rxs.consumes != 0 {
		t.Errorf("count must not go below zero, remaining=%d consumes=%d", orig.RefillsRemaining, rxs.consumes)
	}
}

// -- Queries --

func TestRefillable(t *testing.T) {
	svc, rxs, _ := newTestService()
	ok := addPrescription(rxs, pharmacy.ScheduleNone, 10*day, 1, nil)
	addPrescription(rxs, pharmacy.ScheduleNone, 10*day, 0, nil)
	pending := addPrescription(rxs, pharmacy.ScheduleNone, 10*day, 1, nil)
	pending.Status = pharmacy.StatusPending
	other := addPrescription(rxs, pharmacy.ScheduleNone, 10*day, 1, nil)
	other.PatientID = "patient-2"

	got, err := svc.Refillable(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != ok.ID {
		t.Errorf("expected only %s, got %d prescriptions", ok.ID, len(got))
	}
}

func TestHistory(t *testing.T) {
	svc, rxs, _ := newTestService()
	orig := addPrescription(rxs, pharmacy.ScheduleNone, 30*day, 3, nil)
	ctx := context.Background()

	first, _ := svc.CreateRefill(ctx, &Request{OriginalPrescriptionID: orig.ID, PharmacistID: "p"})
	svc.now = func() time.Time { return testNow.Add(day) }
	second, err := svc.CreateRefill(ctx, &Request{OriginalPrescriptionID: orig.ID, PharmacistID: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(second.PrescriptionNumber, "-R2") {
		t.Errorf("expected second refill number 2, got %s", second.PrescriptionNumber)
	}

	hist, err := svc.History(ctx, orig.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 refills, got %d", len(hist))
	}
	got := []uuid.UUID{hist[0].RefillPrescription.ID, hist[1].RefillPrescription.ID}
	if diff := cmp.Diff([]uuid.UUID{second.ID, first.ID}, got); diff != "" {
		t.Errorf("expected newest first (-want +got):\n%s", diff)
	}
}

func TestStatistics(t *testing.T) {
	svc, rxs, refills := newTestService()
	a := addPrescription(rxs, "CII", 60*day, 3, nil)
	b := addPrescription(rxs, pharmacy.ScheduleNone, 60*day, 3, nil)

	add := func(p *pharmacy.Prescription, n int, ago time.Duration) {
		refills.refills = append(refills.refills, &Refill{
			ID: uuid.New(), OriginalPrescriptionID: p.ID, RefillNumber: n, RefillDate: testNow.Add(-ago),
		})
	}
	add(a, 1, 50*day)
	add(a, 2, 20*day)
	add(b, 1, 30*day)
	add(b, 2, 20*day)
	add(b, 3, 10*day)

	got, err := svc.Statistics(context.Background(), daterange.Range{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &Stats{
		TotalRefills: 5,
		RefillsByDrug: []DrugCount{
			{DrugName: "drug-non-controlled", Count: 3},
			{DrugName: "drug-CII", Count: 2},
		},
		AverageRefillIntervalDays:  (30.0 + 10 + 10) / 3,
		ControlledSubstanceRefills: 2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	from := testNow.Add(-15 * day)
	got, _ = svc.Statistics(context.Background(), daterange.Range{From: &from})
	if got.TotalRefills != 1 || got.AverageRefillIntervalDays != 0 {
		t.Errorf("unexpected ranged stats %+v", got)
	}
}
