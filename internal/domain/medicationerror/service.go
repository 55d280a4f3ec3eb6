package medicationerror

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/pkg/daterange"
)

const (
	topFactorsLimit     = 10
	minFactorLength     = 4
	defaultTrendMonths  = 12
	maxTrendMonths      = 120
	errorNumberSuffixLen = 4
)

var factorSeparators = regexp.MustCompile(`[,;.\n]`)

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Report records a new medication error. The error number and status are
// assigned here; OccurredAt defaults to the time of reporting.
func (s *Service) Report(ctx context.Context, e *MedicationError) error {
	if !contains(errorTypes, e.ErrorType) {
		return fmt.Errorf("invalid error_type: %s", e.ErrorType)
	}
	if !contains(severities, e.Severity) {
		return fmt.Errorf("invalid severity: %s", e.Severity)
	}
	if strings.TrimSpace(e.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if e.ReportedBy == "" {
		return fmt.Errorf("reported_by is required")
	}
	if e.ReporterRole == "" {
		return fmt.Errorf("reporter_role is required")
	}

	now := s.now()
	e.ErrorNumber = s.errorNumber(now)
	e.Status = StatusOpen
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	if e.OccurredAt.After(now) {
		return fmt.Errorf("occurred_at must not be in the future")
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return err
	}

	ev := s.logger.Info()
	if harmful(e.Severity) {
		ev = s.logger.Warn()
	}
	ev.Str("error_number", e.ErrorNumber).
		Str("error_type", e.ErrorType).
		Str("severity", e.Severity).
		Msg("medication error reported")
	return nil
}

func (s *Service) errorNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:errorNumberSuffixLen]
	return fmt.Sprintf("ERR-%d-%s", now.UnixMilli(), suffix)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*MedicationError, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicationError, int, error) {
	if t, ok := params["type"]; ok && !contains(errorTypes, t) {
		return nil, 0, fmt.Errorf("invalid error_type: %s", t)
	}
	if sev, ok := params["severity"]; ok && !contains(severities, sev) {
		return nil, 0, fmt.Errorf("invalid severity: %s", sev)
	}
	if st, ok := params["status"]; ok && !contains(statuses, st) {
		return nil, 0, fmt.Errorf("invalid status: %s", st)
	}
	return s.repo.Search(ctx, params, limit, offset)
}

func (s *Service) ListOpen(ctx context.Context) ([]*MedicationError, error) {
	return s.repo.ListOpen(ctx)
}

func (s *Service) update(ctx context.Context, id uuid.UUID, fn func(e *MedicationError) error) (*MedicationError, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(e); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func appendLine(existing *string, line string) *string {
	if existing == nil || *existing == "" {
		return &line
	}
	joined := *existing + "\n" + line
	return &joined
}

func requireText(name, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, name)
	}
	return v, nil
}

func (s *Service) AddCorrectiveAction(ctx context.Context, id uuid.UUID, action string) (*MedicationError, error) {
	action, err := requireText("action", action)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, id, func(e *MedicationError) error {
		e.CorrectiveActions = appendLine(e.CorrectiveActions, action)
		return nil
	})
}

func (s *Service) AddPreventiveAction(ctx context.Context, id uuid.UUID, action string) (*MedicationError, error) {
	action, err := requireText("action", action)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, id, func(e *MedicationError) error {
		e.PreventiveActions = appendLine(e.PreventiveActions, action)
		return nil
	})
}

func (s *Service) NotifyPatient(ctx context.Context, id uuid.UUID) (*MedicationError, error) {
	return s.update(ctx, id, func(e *MedicationError) error {
		e.PatientNotified = true
		return nil
	})
}

func (s *Service) NotifyPrescriber(ctx context.Context, id uuid.UUID) (*MedicationError, error) {
	return s.update(ctx, id, func(e *MedicationError) error {
		e.PrescriberNotified = true
		return nil
	})
}

func (s *Service) ReportToFDA(ctx context.Context, id uuid.UUID, reportNumber string) (*MedicationError, error) {
	reportNumber, err := requireText("fda_report_number", reportNumber)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, id, func(e *MedicationError) error {
		e.ReportedToFDA = true
		e.FDAReportNumber = &reportNumber
		return nil
	})
}

func (s *Service) ReportToISMP(ctx context.Context, id uuid.UUID) (*MedicationError, error) {
	return s.update(ctx, id, func(e *MedicationError) error {
		e.ReportedToISMP = true
		return nil
	})
}

// UpdateStatus moves an error through its investigation workflow.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*MedicationError, error) {
	if !contains(statuses, status) {
		return nil, fmt.Errorf("%w: invalid status %s", ErrValidation, status)
	}
	return s.update(ctx, id, func(e *MedicationError) error {
		if e.Status == status {
			return nil
		}
		if !transitions[e.Status][status] {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, e.Status, status)
		}
		e.Status = status
		return nil
	})
}

// Close marks an error closed, recording follow-up actions when given.
// Closing an already closed error only updates the follow-up text.
func (s *Service) Close(ctx context.Context, id uuid.UUID, followUp string) (*MedicationError, error) {
	followUp = strings.TrimSpace(followUp)
	return s.update(ctx, id, func(e *MedicationError) error {
		e.Status = StatusClosed
		if followUp != "" {
			e.FollowUpActions = &followUp
		}
		return nil
	})
}

// Statistics summarises the errors reported in r.
func (s *Service) Statistics(ctx context.Context, r daterange.Range) (*Stats, error) {
	items, err := s.repo.ListInRange(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("list medication errors: %w", err)
	}
	return summarize(items), nil
}

func summarize(items []*MedicationError) *Stats {
	byType := make(map[string]int, len(errorTypes))
	bySeverity := make(map[string]int, len(severities))
	byStatus := make(map[string]int, len(statuses))
	factors := map[string]int{}
	var nearMisses, harmfulCount int

	for _, e := range items {
		byType[e.ErrorType]++
		bySeverity[e.Severity]++
		byStatus[e.Status]++
		if e.Severity == SeverityNearMiss {
			nearMisses++
		}
		if harmful(e.Severity) {
			harmfulCount++
		}
		if e.ContributingFactors != nil {
			for _, f := range splitFactors(*e.ContributingFactors) {
				factors[f]++
			}
		}
	}

	st := &Stats{
		TotalErrors:            len(items),
		ErrorsByType:           seeded(errorTypes, byType),
		ErrorsBySeverity:       seeded(severities, bySeverity),
		ErrorsByStatus:         seeded(statuses, byStatus),
		TopContributingFactors: top(factors, topFactorsLimit),
	}
	if len(items) > 0 {
		st.NearMissRate = percent(nearMisses, len(items))
		st.HarmfulErrorRate = percent(harmfulCount, len(items))
	}
	return st
}

func percent(n, total int) float64 {
	return float64(n) / float64(total) * 100
}

func splitFactors(text string) []string {
	var out []string
	for _, part := range factorSeparators.Split(strings.ToLower(text), -1) {
		part = strings.TrimSpace(part)
		if utf8.RuneCountInString(part) >= minFactorLength {
			out = append(out, part)
		}
	}
	return out
}

// seeded reports a count for every key, zero included, in key order.
func seeded(keys []string, counts map[string]int) []Count {
	out := make([]Count, 0, len(keys))
	for _, k := range keys {
		out = append(out, Count{Key: k, Count: counts[k]})
	}
	return out
}

func top(counts map[string]int, limit int) []Count {
	out := make([]Count, 0, len(counts))
	for k, n := range counts {
		out = append(out, Count{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Trends groups errors reported over the last months by calendar month
// (UTC), oldest month first. Months without errors are omitted.
func (s *Service) Trends(ctx context.Context, months int) ([]MonthlyTrend, error) {
	if months <= 0 {
		months = defaultTrendMonths
	}
	if months > maxTrendMonths {
		return nil, fmt.Errorf("%w: months must be at most %d", ErrValidation, maxTrendMonths)
	}
	from := s.now().AddDate(0, -months, 0)
	items, err := s.repo.ListInRange(ctx, daterange.Range{From: &from})
	if err != nil {
		return nil, fmt.Errorf("list medication errors: %w", err)
	}

	byMonth := map[string]*MonthlyTrend{}
	for _, e := range items {
		key := e.ReportedAt.UTC().Format("2006-01")
		t, ok := byMonth[key]
		if !ok {
			t = &MonthlyTrend{Month: key}
			byMonth[key] = t
		}
		t.TotalErrors++
		if e.Severity == SeverityNearMiss {
			t.NearMisses++
		}
		if harmful(e.Severity) {
			t.HarmfulErrors++
		}
	}

	out := make([]MonthlyTrend, 0, len(byMonth))
	for _, t := range byMonth {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

// Digest reports open errors and statistics for the 24 hours before now.
func (s *Service) Digest(ctx context.Context) (*Digest, error) {
	open, err := s.repo.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open errors: %w", err)
	}
	d := &Digest{OpenErrors: len(open)}
	for _, e := range open {
		if harmful(e.Severity) {
			d.OpenHarmful++
		}
	}
	if len(open) > 0 {
		oldest := open[0].ReportedAt
		d.OldestOpen = &oldest
	}

	to := s.now()
	from := to.Add(-24 * time.Hour)
	if d.LastDay, err = s.Statistics(ctx, daterange.Range{From: &from, To: &to}); err != nil {
		return nil, err
	}
	return d, nil
}
