package counseling

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/pkg/daterange"
)

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepoPG{pool: pool}
}

func (r *sessionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const sessionCols = `id, prescription_id, patient_id, patient_name, pharmacist_id, pharmacist_name,
	pharmacist_license, topics, duration_minutes, notes, patient_questions, patient_understood,
	status, refusal_reason, counseling_date`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.PrescriptionID, &s.PatientID, &s.PatientName, &s.PharmacistID, &s.PharmacistName,
		&s.PharmacistLicense, &s.Topics, &s.DurationMinutes, &s.Notes, &s.PatientQuestions, &s.PatientUnderstood,
		&s.Status, &s.RefusalReason, &s.CounselingDate)
	return &s, err
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	if s.Topics == nil {
		s.Topics = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO counseling_session (id, prescription_id, patient_id, patient_name, pharmacist_id,
			pharmacist_name, pharmacist_license, topics, duration_minutes, notes, patient_questions,
			patient_understood, status, refusal_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING counseling_date`,
		s.ID, s.PrescriptionID, s.PatientID, s.PatientName, s.PharmacistID,
		s.PharmacistName, s.PharmacistLicense, s.Topics, s.DurationMinutes, s.Notes, s.PatientQuestions,
		s.PatientUnderstood, s.Status, s.RefusalReason).Scan(&s.CounselingDate)
}

func (r *sessionRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Session, int, error) {
	q := db.NewQuery("counseling_session", sessionCols)
	q.Apply(db.Filter{Type: db.FilterExact, Column: "patient_id"}, patientID)
	q.OrderBy("counseling_date DESC, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	return items, total, err
}

func (r *sessionRepoPG) ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*Session, error) {
	return r.list(ctx, `SELECT `+sessionCols+` FROM counseling_session
		WHERE prescription_id = $1 ORDER BY counseling_date DESC, id`, prescriptionID)
}

func (r *sessionRepoPG) ListInRange(ctx context.Context, rng daterange.Range) ([]*Session, error) {
	q := db.NewQuery("counseling_session", sessionCols)
	q.Between("counseling_date", rng.From, rng.To)
	q.OrderBy("counseling_date, id")
	return r.list(ctx, q.SQL(), q.Args()...)
}

func (r *sessionRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Session, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
