package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	drugs         DrugRepository
	prescriptions PrescriptionRepository
	now           func() time.Time
}

func NewService(drugs DrugRepository, prescriptions PrescriptionRepository) *Service {
	return &Service{drugs: drugs, prescriptions: prescriptions, now: time.Now}
}

// -- Drug --

var validRoutes = map[string]bool{
	"oral": true, "IV": true, "IM": true, "SC": true, "topical": true,
	"inhaled": true, "sublingual": true, "rectal": true, "transdermal": true,
}

var validSchedules = map[string]bool{
	ScheduleNone: true, "CII": true, "CIII": true, "CIV": true, "CV": true,
}

func validateDrug(d *Drug) error {
	d.GenericName = strings.TrimSpace(d.GenericName)
	if d.GenericName == "" {
		return fmt.Errorf("generic_name is required")
	}
	if d.Route == "" {
		return fmt.Errorf("route is required")
	}
	if !validRoutes[d.Route] {
		return fmt.Errorf("invalid route: %s", d.Route)
	}
	if d.ControlledSchedule == "" {
		d.ControlledSchedule = ScheduleNone
	}
	if !validSchedules[d.ControlledSchedule] {
		return fmt.Errorf("invalid controlled_schedule: %s", d.ControlledSchedule)
	}
	if d.UnitCost != nil && *d.UnitCost < 0 {
		return fmt.Errorf("unit_cost must not be negative")
	}
	return nil
}

func (s *Service) CreateDrug(ctx context.Context, d *Drug) error {
	if err := validateDrug(d); err != nil {
		return err
	}
	d.Active = true
	return s.drugs.Create(ctx, d)
}

func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.drugs.GetByID(ctx, id)
}

func (s *Service) UpdateDrug(ctx context.Context, d *Drug) error {
	if err := validateDrug(d); err != nil {
		return err
	}
	return s.drugs.Update(ctx, d)
}

func (s *Service) SearchDrugs(ctx context.Context, params map[string]string, limit, offset int) ([]*Drug, int, error) {
	return s.drugs.Search(ctx, params, limit, offset)
}

// -- Prescription --

const (
	StatusPending   = "pending"
	StatusVerified  = "verified"
	StatusDispensed = "dispensed"
	StatusOnHold    = "on-hold"
	StatusCancelled = "cancelled"
)

// allowed status transitions; dispensed and cancelled are terminal.
var prescriptionTransitions = map[string]map[string]bool{
	StatusPending:  {StatusVerified: true, StatusOnHold: true, StatusCancelled: true},
	StatusVerified: {StatusDispensed: true, StatusOnHold: true, StatusCancelled: true},
	StatusOnHold:   {StatusPending: true, StatusVerified: true, StatusCancelled: true},
}

func (s *Service) CreatePrescription(ctx context.Context, p *Prescription) error {
	if p.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if p.PatientName == "" {
		return fmt.Errorf("patient_name is required")
	}
	if p.PrescriberID == "" {
		return fmt.Errorf("prescriber_id is required")
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("at least one item is required")
	}
	if p.RefillsAllowed < 0 {
		return fmt.Errorf("refills_allowed must not be negative")
	}
	for i, it := range p.Items {
		if it == nil || it.DrugID == uuid.Nil {
			return fmt.Errorf("items[%d].drug_id is required", i)
		}
		if it.QuantityPrescribed <= 0 {
			return fmt.Errorf("items[%d].quantity_prescribed must be positive", i)
		}
		if it.DaySupply != nil && *it.DaySupply <= 0 {
			return fmt.Errorf("items[%d].day_supply must be positive", i)
		}
		d, err := s.drugs.GetByID(ctx, it.DrugID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("items[%d]: drug %s not found", i, it.DrugID)
		}
		if err != nil {
			return fmt.Errorf("items[%d]: %w", i, err)
		}
		it.Drug = d
	}

	if p.PrescriptionNumber == "" {
		p.PrescriptionNumber = s.newNumber()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.PrescriptionDate.IsZero() {
		p.PrescriptionDate = s.now().UTC()
	}
	p.RefillsRemaining = p.RefillsAllowed
	if p.HasControlledSubstance() {
		p.RequiresCounseling = true
	}
	return s.prescriptions.Create(ctx, p)
}

func (s *Service) newNumber() string {
	return fmt.Sprintf("RX-%s-%s", s.now().UTC().Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

func (s *Service) SearchPrescriptions(ctx context.Context, params map[string]string, limit, offset int) ([]*Prescription, int, error) {
	return s.prescriptions.Search(ctx, params, limit, offset)
}

// UpdatePrescriptionStatus moves a prescription along its workflow. Moving to
// dispensed stamps dispensed_at.
func (s *Service) UpdatePrescriptionStatus(ctx context.Context, id uuid.UUID, status string) (*Prescription, error) {
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == status {
		return p, nil
	}
	if !prescriptionTransitions[p.Status][status] {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, status)
	}
	p.Status = status
	if status == StatusDispensed {
		now := s.now().UTC()
		p.DispensedAt = &now
	}
	if err := s.prescriptions.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
