package counseling

import (
	"context"
	"fmt"
	"sort"

	"bitbucket.org/creachadair/stringset"
	"github.com/google/uuid"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
	"github.com/ehr/pharmacy/pkg/daterange"
)

const topTopicsLimit = 10

// PrescriptionReader loads a prescription with its items and drugs.
type PrescriptionReader interface {
	GetPrescription(ctx context.Context, id uuid.UUID) (*pharmacy.Prescription, error)
}

type Service struct {
	sessions      SessionRepository
	prescriptions PrescriptionReader
}

func NewService(sessions SessionRepository, prescriptions PrescriptionReader) *Service {
	return &Service{sessions: sessions, prescriptions: prescriptions}
}

// LogSession records a counseling session against an existing prescription.
func (s *Service) LogSession(ctx context.Context, sess *Session) error {
	if sess.PrescriptionID == uuid.Nil {
		return fmt.Errorf("prescription_id is required")
	}
	if sess.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if sess.PharmacistID == "" {
		return fmt.Errorf("pharmacist_id is required")
	}
	if !validStatuses[sess.Status] {
		return fmt.Errorf("invalid status: %s", sess.Status)
	}
	if sess.DurationMinutes < 0 {
		return fmt.Errorf("duration_minutes must not be negative")
	}
	if sess.Status == StatusRefused && (sess.RefusalReason == nil || *sess.RefusalReason == "") {
		return fmt.Errorf("refusal_reason is required when counseling is refused")
	}
	if _, err := s.prescriptions.GetPrescription(ctx, sess.PrescriptionID); err != nil {
		return err
	}
	sess.Topics = stringset.New(sess.Topics...).Elements()
	return s.sessions.Create(ctx, sess)
}

func (s *Service) HistoryByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Session, int, error) {
	if patientID == "" {
		return nil, 0, fmt.Errorf("patient_id is required")
	}
	return s.sessions.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*Session, error) {
	return s.sessions.ListByPrescription(ctx, prescriptionID)
}

// IsCounseled reports whether the prescription has a completed session.
func (s *Service) IsCounseled(ctx context.Context, prescriptionID uuid.UUID) (bool, error) {
	sessions, err := s.sessions.ListByPrescription(ctx, prescriptionID)
	if err != nil {
		return false, err
	}
	for _, sess := range sessions {
		if sess.Status == StatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

// RequiredTopics lists the standard topics plus those implied by the
// prescription's drugs.
func (s *Service) RequiredTopics(ctx context.Context, prescriptionID uuid.UUID) ([]string, error) {
	p, err := s.prescriptions.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	return requiredTopics(p), nil
}

func requiredTopics(p *pharmacy.Prescription) []string {
	set := stringset.New(TopicPurpose, TopicDosing, TopicRoute, TopicDuration)
	for _, it := range p.Items {
		d := it.Drug
		if d == nil {
			continue
		}
		if d.IsControlled() {
			set.Add(TopicControlled, TopicStorageSecurity)
		}
		if d.RequiresRefrigeration {
			set.Add(TopicRefrigeration)
		}
		if d.IsHazardous {
			set.Add(TopicHazardousHandling, TopicSpecialPrecautions)
		}
		if d.SideEffects != nil && *d.SideEffects != "" {
			set.Add(TopicSideEffects, TopicContactProvider)
		}
		if len(d.Contraindications) > 0 {
			set.Add(TopicContraindications)
		}
	}

	out := make([]string, 0, len(set))
	for _, t := range topicOrder {
		if set.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// ValidateCompletion checks the completed sessions of a prescription against
// its required topics. A prescription that does not require counseling is
// always complete.
func (s *Service) ValidateCompletion(ctx context.Context, prescriptionID uuid.UUID) (*Completion, error) {
	p, err := s.prescriptions.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListByPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}

	required := requiredTopics(p)
	covered := stringset.New()
	for _, sess := range sessions {
		if sess.Status == StatusCompleted {
			covered.Add(sess.Topics...)
		}
	}

	completed := covered.Elements()
	if completed == nil {
		completed = []string{}
	}
	missing := []string{}
	for _, t := range required {
		if !covered.Contains(t) {
			missing = append(missing, t)
		}
	}

	return &Completion{
		IsRequired:      p.RequiresCounseling,
		IsCompleted:     !p.RequiresCounseling || len(missing) == 0,
		RequiredTopics:  required,
		CompletedTopics: completed,
		MissingTopics:   missing,
	}, nil
}

// Statistics summarises sessions in the range; a zero range covers all.
func (s *Service) Statistics(ctx context.Context, r daterange.Range) (*Stats, error) {
	sessions, err := s.sessions.ListInRange(ctx, r)
	if err != nil {
		return nil, err
	}

	st := &Stats{TopTopics: []TopicCount{}}
	var duration int
	counts := map[string]int{}
	for _, sess := range sessions {
		st.TotalSessions++
		switch sess.Status {
		case StatusCompleted:
			st.CompletedSessions++
		case StatusRefused:
			st.RefusedSessions++
		case StatusDeferred:
			st.DeferredSessions++
		}
		duration += sess.DurationMinutes
		for _, t := range sess.Topics {
			counts[t]++
		}
	}
	if st.TotalSessions > 0 {
		st.AverageDuration = float64(duration) / float64(st.TotalSessions)
	}

	for t, n := range counts {
		st.TopTopics = append(st.TopTopics, TopicCount{Topic: t, Count: n})
	}
	sort.Slice(st.TopTopics, func(i, j int) bool {
		if st.TopTopics[i].Count != st.TopTopics[j].Count {
			return st.TopTopics[i].Count > st.TopTopics[j].Count
		}
		return st.TopTopics[i].Topic < st.TopTopics[j].Topic
	})
	if len(st.TopTopics) > topTopicsLimit {
		st.TopTopics = st.TopTopics[:topTopicsLimit]
	}
	return st, nil
}
