package refill

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
	"github.com/ehr/pharmacy/pkg/daterange"
)

// TxRunner runs fn in one database transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

const day = 24 * time.Hour

type Service struct {
	refills       RefillRepository
	prescriptions pharmacy.PrescriptionRepository
	inTx          TxRunner
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(refills RefillRepository, prescriptions pharmacy.PrescriptionRepository, inTx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		refills:       refills,
		prescriptions: prescriptions,
		inTx:          inTx,
		logger:        logger,
		now:           time.Now,
	}
}

// CheckEligibility reports whether a prescription can be refilled now. An
// unknown prescription is reported as ineligible, not as an error.
func (s *Service) CheckEligibility(ctx context.Context, prescriptionID uuid.UUID) (*Eligibility, error) {
	p, err := s.prescriptions.GetByID(ctx, prescriptionID)
	if errors.Is(err, pharmacy.ErrNotFound) {
		return &Eligibility{Reason: "Prescription not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.eligibility(ctx, p)
}

func (s *Service) eligibility(ctx context.Context, p *pharmacy.Prescription) (*Eligibility, error) {
	now := s.now()
	el := &Eligibility{
		RefillsRemaining:      p.RefillsRemaining,
		IsControlledSubstance: p.HasControlledSubstance(),
	}

	if p.RefillsRemaining <= 0 {
		el.Reason = "No refills remaining"
		return el, nil
	}

	expiry := standardExpiryDays
	if el.IsControlledSubstance {
		expiry = controlledExpiryDays
	}
	if age := days(now.Sub(p.PrescriptionDate)); age > float64(expiry) {
		el.Reason = fmt.Sprintf("Prescription expired (%d days old, limit: %d days)", int(math.Floor(age)), expiry)
		return el, nil
	}

	history, err := s.refills.ListByOriginal(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load refill history: %w", err)
	}
	var last *Refill
	if len(history) > 0 {
		last = history[0]
		el.DaysSinceLastFill = days(now.Sub(last.RefillDate))
	} else if p.DispensedAt != nil {
		el.DaysSinceLastFill = days(now.Sub(*p.DispensedAt))
	}

	if el.IsControlledSubstance && last != nil {
		minimum := int(math.Floor(float64(daySupply(p)) * earlyRefillFraction))
		if el.DaysSinceLastFill < float64(minimum) {
			el.Reason = fmt.Sprintf("Too early for controlled substance refill (%d days since last fill, minimum: %d days)",
				int(math.Floor(el.DaysSinceLastFill)), minimum)
			return el, nil
		}
	}

	el.IsEligible = true
	return el, nil
}

func days(d time.Duration) float64 {
	return float64(d) / float64(day)
}

// daySupply is the first item's day supply, or 30 days when unset.
func daySupply(p *pharmacy.Prescription) int {
	if len(p.Items) > 0 && p.Items[0].DaySupply != nil && *p.Items[0].DaySupply > 0 {
		return *p.Items[0].DaySupply
	}
	return defaultDaySupply
}

// CreateRefill issues a new pending prescription copying the original's
// items, logs the refill and decrements the original's remaining refills,
// all in one transaction. The decrement is conditional on a refill being
// left, so concurrent refills of the last allowance cannot both commit.
func (s *Service) CreateRefill(ctx context.Context, req *Request) (*pharmacy.Prescription, error) {
	if req.OriginalPrescriptionID == uuid.Nil {
		return nil, fmt.Errorf("original_prescription_id is required")
	}
	if req.PharmacistID == "" {
		return nil, fmt.Errorf("pharmacist_id is required")
	}
	if req.RefillNumber < 0 {
		return nil, fmt.Errorf("refill_number must be positive")
	}

	var refillRx *pharmacy.Prescription
	err := s.inTx(ctx, func(ctx context.Context) error {
		orig, err := s.prescriptions.GetByID(ctx, req.OriginalPrescriptionID)
		if err != nil {
			return err
		}
		el, err := s.eligibility(ctx, orig)
		if err != nil {
			return err
		}
		if !el.IsEligible {
			return fmt.Errorf("%w: %s", ErrIneligible, el.Reason)
		}

		number := req.RefillNumber
		if number == 0 {
			number = orig.RefillsAllowed - orig.RefillsRemaining + 1
		}
		refillRx = newRefillPrescription(orig, number, req.Notes, s.now().UTC())
		if err := s.prescriptions.Create(ctx, refillRx); err != nil {
			return fmt.Errorf("create refill prescription: %w", err)
		}

		entry := &Refill{
			OriginalPrescriptionID: orig.ID,
			RefillPrescriptionID:   refillRx.ID,
			RefillNumber:           number,
			PharmacistID:           req.PharmacistID,
			PatientRequestDate:     req.PatientRequestDate,
		}
		if req.PharmacistName != "" {
			entry.PharmacistName = &req.PharmacistName
		}
		if req.Notes != "" {
			entry.Notes = &req.Notes
		}
		if err := s.refills.Create(ctx, entry); err != nil {
			return fmt.Errorf("log refill: %w", err)
		}

		remaining, err := s.prescriptions.ConsumeRefill(ctx, orig.ID)
		if errors.Is(err, pharmacy.ErrNoRefillsLeft) {
			return fmt.Errorf("%w: No refills remaining", ErrIneligible)
		}
		if err != nil {
			return fmt.Errorf("consume refill: %w", err)
		}
		orig.RefillsRemaining = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("original_prescription_id", req.OriginalPrescriptionID.String()).
		Str("refill_prescription_id", refillRx.ID.String()).
		Str("prescription_number", refillRx.PrescriptionNumber).
		Msg("prescription refilled")
	return refillRx, nil
}

func newRefillPrescription(orig *pharmacy.Prescription, number int, notes string, now time.Time) *pharmacy.Prescription {
	note := strings.TrimSpace(fmt.Sprintf("Refill #%d of prescription %s. %s", number, orig.PrescriptionNumber, notes))
	origID := orig.ID
	p := &pharmacy.Prescription{
		PrescriptionNumber:     fmt.Sprintf("%s-R%d", orig.PrescriptionNumber, number),
		PatientID:              orig.PatientID,
		PatientName:            orig.PatientName,
		PrescriberID:           orig.PrescriberID,
		PrescriberName:         orig.PrescriberName,
		PrescriptionDate:       now,
		Status:                 pharmacy.StatusPending,
		RequiresCounseling:     orig.RequiresCounseling,
		OriginalPrescriptionID: &origID,
		Notes:                  &note,
	}
	for _, it := range orig.Items {
		p.Items = append(p.Items, &pharmacy.PrescriptionItem{
			DrugID:             it.DrugID,
			Drug:               it.Drug,
			DosageInstructions: it.DosageInstructions,
			QuantityPrescribed: it.QuantityPrescribed,
			DaySupply:          it.DaySupply,
		})
	}
	return p
}

// History returns the refills of a prescription, newest first, with each
// refill prescription attached.
func (s *Service) History(ctx context.Context, prescriptionID uuid.UUID) ([]*Refill, error) {
	refills, err := s.refills.ListByOriginal(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	for _, f := range refills {
		p, err := s.prescriptions.GetByID(ctx, f.RefillPrescriptionID)
		if err != nil && !errors.Is(err, pharmacy.ErrNotFound) {
			return nil, err
		}
		f.RefillPrescription = p
	}
	return refills, nil
}

func (s *Service) PatientHistory(ctx context.Context, patientID string) ([]*Refill, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	return s.refills.ListByPatient(ctx, patientID)
}

const refillablePageSize = 100

// Refillable lists the patient's dispensed prescriptions that are eligible
// for a refill now, newest first.
func (s *Service) Refillable(ctx context.Context, patientID string) ([]*pharmacy.Prescription, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	params := map[string]string{"patient_id": patientID, "status": pharmacy.StatusDispensed}

	out := []*pharmacy.Prescription{}
	for offset := 0; ; offset += refillablePageSize {
		page, total, err := s.prescriptions.Search(ctx, params, refillablePageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			el, err := s.eligibility(ctx, p)
			if err != nil {
				return nil, err
			}
			if el.IsEligible {
				out = append(out, p)
			}
		}
		if len(page) == 0 || offset+len(page) >= total {
			return out, nil
		}
	}
}

// Statistics counts refills in the range. Drug counts come from the items of
// each refill's original prescription. The average interval is measured
// between consecutive refills of the same prescription.
func (s *Service) Statistics(ctx context.Context, r daterange.Range) (*Stats, error) {
	refills, err := s.refills.ListInRange(ctx, r)
	if err != nil {
		return nil, err
	}

	st := &Stats{TotalRefills: len(refills), RefillsByDrug: []DrugCount{}}
	originals := map[uuid.UUID]*pharmacy.Prescription{}
	lastByOriginal := map[uuid.UUID]time.Time{}
	counts := map[string]int{}
	var intervalSum float64
	var intervals int

	sort.SliceStable(refills, func(i, j int) bool { return refills[i].RefillDate.Before(refills[j].RefillDate) })
	for _, f := range refills {
		orig, ok := originals[f.OriginalPrescriptionID]
		if !ok {
			orig, err = s.prescriptions.GetByID(ctx, f.OriginalPrescriptionID)
			if err != nil {
				return nil, fmt.Errorf("load prescription %s: %w", f.OriginalPrescriptionID, err)
			}
			originals[f.OriginalPrescriptionID] = orig
		}
		for _, it := range orig.Items {
			if it.Drug == nil {
				continue
			}
			counts[it.Drug.GenericName]++
			if it.Drug.IsControlled() {
				st.ControlledSubstanceRefills++
			}
		}
		if prev, ok := lastByOriginal[f.OriginalPrescriptionID]; ok {
			intervalSum += days(f.RefillDate.Sub(prev))
			intervals++
		}
		lastByOriginal[f.OriginalPrescriptionID] = f.RefillDate
	}
	if intervals > 0 {
		st.AverageRefillIntervalDays = intervalSum / float64(intervals)
	}

	for name, n := range counts {
		st.RefillsByDrug = append(st.RefillsByDrug, DrugCount{DrugName: name, Count: n})
	}
	sort.Slice(st.RefillsByDrug, func(i, j int) bool {
		if st.RefillsByDrug[i].Count != st.RefillsByDrug[j].Count {
			return st.RefillsByDrug[i].Count > st.RefillsByDrug[j].Count
		}
		return st.RefillsByDrug[i].DrugName < st.RefillsByDrug[j].DrugName
	})
	if len(st.RefillsByDrug) > topDrugsLimit {
		st.RefillsByDrug = st.RefillsByDrug[:topDrugsLimit]
	}
	return st, nil
}
