package pharmacy

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repositories --

type mockDrugRepo struct {
	drugs map[uuid.UUID]*Drug
}

func newMockDrugRepo() *mockDrugRepo {
	return &mockDrugRepo{drugs: make(map[uuid.UUID]*Drug)}
}

func (m *mockDrugRepo) Create(_ context.Context, d *Drug) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.drugs[d.ID] = d
	return nil
}

func (m *mockDrugRepo) GetByID(_ context.Context, id uuid.UUID) (*Drug, error) {
	d, ok := m.drugs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockDrugRepo) Update(_ context.Context, d *Drug) error {
	if _, ok := m.drugs[d.ID]; !ok {
		return ErrNotFound
	}
	m.drugs[d.ID] = d
	return nil
}

func (m *mockDrugRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Drug, int, error) {
	var result []*Drug
	for _, d := range m.drugs {
		if name := params["name"]; name != "" && !strings.Contains(strings.ToLower(d.GenericName), strings.ToLower(name)) {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].GenericName < result[j].GenericName })
	return page(result, limit, offset), len(result), nil
}

type mockPrescriptionRepo struct {
	items map[uuid.UUID]*Prescription
}

func newMockPrescriptionRepo() *mockPrescriptionRepo {
	return &mockPrescriptionRepo{items: make(map[uuid.UUID]*Prescription)}
}

func (m *mockPrescriptionRepo) Create(_ context.Context, p *Prescription) error {
	for _, existing := range m.items {
		if existing.PrescriptionNumber == p.PrescriptionNumber {
			return ErrDuplicateNumber
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

func (m *mockPrescriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockPrescriptionRepo) Update(_ context.Context, p *Prescription) error {
	if _, ok := m.items[p.ID]; !ok {
		return ErrNotFound
	}
	m.items[p.ID] = p
	return nil
}

func (m *mockPrescriptionRepo) ConsumeRefill(_ context.Context, id uuid.UUID) (int, error) {
	p, ok := m.items[id]
	if !ok || p.RefillsRemaining <= 0 {
		return 0, ErrNoRefillsLeft
	}
	p.RefillsRemaining--
	return p.RefillsRemaining, nil
}

func (m *mockPrescriptionRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Prescription, int, error) {
	var result []*Prescription
	for _, p := range m.items {
		if pid := params["patient_id"]; pid != "" && p.PatientID != pid {
			continue
		}
		if st := params["status"]; st != "" && p.Status != st {
			continue
		}
		result = append(result, p)
	}
	return page(result, limit, offset), len(result), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func newTestService() *Service {
	svc := NewService(newMockDrugRepo(), newMockPrescriptionRepo())
	svc.now = func() time.Time { return time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC) }
	return svc
}

func mustCreateDrug(t *testing.T, svc *Service, name, route, schedule string) *Drug {
	t.Helper()
	d := &Drug{GenericName: name, Route: route, ControlledSchedule: schedule}
	if err := svc.CreateDrug(context.Background(), d); err != nil {
		t.Fatalf("create drug %s: %v", name, err)
	}
	return d
}

// -- Drug --

func TestCreateDrug(t *testing.T) {
	svc := newTestService()
	d := mustCreateDrug(t, svc, "  Warfarin ", "oral", "")
	if d.GenericName != "Warfarin" {
		t.Errorf("expected trimmed name, got %q", d.GenericName)
	}
	if d.ControlledSchedule != ScheduleNone {
		t.Errorf("expected default schedule, got %q", d.ControlledSchedule)
	}
	if !d.Active {
		t.Error("expected new drug to be active")
	}
}

func TestCreateDrug_Validation(t *testing.T) {
	neg := -1.0
	tests := []struct {
		name string
		drug Drug
		want string
	}{
		{"missing name", Drug{Route: "oral"}, "generic_name"},
		{"missing route", Drug{GenericName: "x"}, "route is required"},
		{"bad route", Drug{GenericName: "x", Route: "nasal-spray"}, "invalid route"},
		{"bad schedule", Drug{GenericName: "x", Route: "oral", ControlledSchedule: "CVI"}, "controlled_schedule"},
		{"negative cost", Drug{GenericName: "x", Route: "oral", UnitCost: &neg}, "unit_cost"},
	}
	svc := newTestService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.drug
			err := svc.CreateDrug(context.Background(), &d)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDrug_IsControlled(t *testing.T) {
	if (&Drug{ControlledSchedule: ScheduleNone}).IsControlled() {
		t.Error("non-controlled drug reported as controlled")
	}
	if (&Drug{}).IsControlled() {
		t.Error("empty schedule reported as controlled")
	}
	if !(&Drug{ControlledSchedule: "CII"}).IsControlled() {
		t.Error("CII drug not reported as controlled")
	}
}

// -- Prescription --

func TestCreatePrescription(t *testing.T) {
	svc := newTestService()
	met := mustCreateDrug(t, svc, "metformin", "oral", "")

	p := &Prescription{
		PatientID:      "p-1",
		PatientName:    "Ana Diaz",
		PrescriberID:   "dr-1",
		RefillsAllowed: 3,
		Items: []*PrescriptionItem{
			{DrugID: met.ID, DosageInstructions: "500mg twice daily", QuantityPrescribed: 60},
		},
	}
	if err := svc.CreatePrescription(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("expected pending, got %s", p.Status)
	}
	if p.RefillsRemaining != 3 {
		t.Errorf("expected 3 refills remaining, got %d", p.RefillsRemaining)
	}
	if !strings.HasPrefix(p.PrescriptionNumber, "RX-20240510-") {
		t.Errorf("unexpected number %q", p.PrescriptionNumber)
	}
	if p.Items[0].Drug == nil || p.Items[0].Drug.GenericName != "metformin" {
		t.Error("expected drug attached to item")
	}
	if p.RequiresCounseling {
		t.Error("did not expect counseling for non-controlled drug")
	}
}

func TestCreatePrescription_ControlledRequiresCounseling(t *testing.T) {
	svc := newTestService()
	oxy := mustCreateDrug(t, svc, "oxycodone", "oral", "CII")

	p := &Prescription{
		PatientID: "p-1", PatientName: "Ana Diaz", PrescriberID: "dr-1",
		Items: []*PrescriptionItem{{DrugID: oxy.ID, QuantityPrescribed: 20}},
	}
	if err := svc.CreatePrescription(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.RequiresCounseling {
		t.Error("expected counseling to be required for CII drug")
	}
}

func TestCreatePrescription_Validation(t *testing.T) {
	svc := newTestService()
	d := mustCreateDrug(t, svc, "aspirin", "oral", "")
	zero := 0

	tests := []struct {
		name string
		rx   Prescription
		want string
	}{
		{"missing patient", Prescription{PatientName: "a", PrescriberID: "b"}, "patient_id"},
		{"missing items", Prescription{PatientID: "p", PatientName: "a", PrescriberID: "b"}, "at least one item"},
		{"unknown drug", Prescription{PatientID: "p", PatientName: "a", PrescriberID: "b",
			Items: []*PrescriptionItem{{DrugID: uuid.New(), QuantityPrescribed: 1}}}, "not found"},
		{"zero quantity", Prescription{PatientID: "p", PatientName: "a", PrescriberID: "b",
			Items: []*PrescriptionItem{{DrugID: d.ID}}}, "quantity_prescribed"},
		{"zero day supply", Prescription{PatientID: "p", PatientName: "a", PrescriberID: "b",
			Items: []*PrescriptionItem{{DrugID: d.ID, QuantityPrescribed: 1, DaySupply: &zero}}}, "day_supply"},
		{"negative refills", Prescription{PatientID: "p", PatientName: "a", PrescriberID: "b", RefillsAllowed: -1,
			Items: []*PrescriptionItem{{DrugID: d.ID, QuantityPrescribed: 1}}}, "refills_allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rx := tt.rx
			err := svc.CreatePrescription(context.Background(), &rx)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestUpdatePrescriptionStatus(t *testing.T) {
	svc := newTestService()
	d := mustCreateDrug(t, svc, "aspirin", "oral", "")
	p := &Prescription{PatientID: "p", PatientName: "a", PrescriberID: "b",
		Items: []*PrescriptionItem{{DrugID: d.ID, QuantityPrescribed: 30}}}
	if err := svc.CreatePrescription(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.UpdatePrescriptionStatus(context.Background(), p.ID, StatusDispensed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from pending to dispensed, got %v", err)
	}
	if _, err := svc.UpdatePrescriptionStatus(context.Background(), p.ID, StatusVerified); err != nil {
		t.Fatalf("verify: %v", err)
	}
	got, err := svc.UpdatePrescriptionStatus(context.Background(), p.ID, StatusDispensed)
	if err != nil {
		t.Fatalf("dispense: %v", err)
	}
	if got.DispensedAt == nil || !got.DispensedAt.Equal(time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("expected dispensed_at stamped, got %v", got.DispensedAt)
	}
	if _, err := svc.UpdatePrescriptionStatus(context.Background(), p.ID, StatusCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected dispensed to be terminal, got %v", err)
	}
}

func TestUpdatePrescriptionStatus_NotFound(t *testing.T) {
	svc := newTestService()
	if _, err := svc.UpdatePrescriptionStatus(context.Background(), uuid.New(), StatusVerified); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
