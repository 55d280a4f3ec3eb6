package safety

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
)

var ErrInvalidFactors = errors.New("invalid patient factors")

// PrescriptionReader loads a prescription with its items and their drugs.
type PrescriptionReader interface {
	GetPrescription(ctx context.Context, id uuid.UUID) (*pharmacy.Prescription, error)
}

type Service struct {
	prescriptions PrescriptionReader
	validator     *Validator
	logger        zerolog.Logger
}

func NewService(prescriptions PrescriptionReader, validator *Validator, logger zerolog.Logger) *Service {
	return &Service{prescriptions: prescriptions, validator: validator, logger: logger}
}

// Validate checks a stored prescription against the patient's factors. An
// unknown id is reported as a critical alert, not an error.
func (s *Service) Validate(ctx context.Context, prescriptionID uuid.UUID, factors PatientFactors) (ValidationResult, error) {
	if err := factors.Validate(); err != nil {
		return ValidationResult{}, fmt.Errorf("%w: %v", ErrInvalidFactors, err)
	}

	p, err := s.prescriptions.GetPrescription(ctx, prescriptionID)
	if errors.Is(err, pharmacy.ErrNotFound) {
		s.logger.Info().Str("prescription_id", prescriptionID.String()).Msg("safety validation on unknown prescription")
		return notFoundResult(), nil
	}
	if err != nil {
		return ValidationResult{}, fmt.Errorf("load prescription %s: %w", prescriptionID, err)
	}

	res := s.validator.Evaluate(p, factors)
	ev := s.logger.Debug()
	if !res.IsValid {
		ev = s.logger.Info()
	}
	ev.Str("prescription_id", prescriptionID.String()).
		Int("items", len(p.Items)).
		Int("alerts", len(res.Alerts)).
		Stringer("max_severity", res.MaxSeverity()).
		Bool("valid", res.IsValid).
		Msg("prescription safety validated")
	return res, nil
}

func (s *Service) Catalog() *Catalog {
	return s.validator.Catalog()
}
