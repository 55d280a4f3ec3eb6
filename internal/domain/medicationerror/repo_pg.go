package medicationerror

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/pkg/daterange"
)

type errorRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &errorRepoPG{pool: pool}
}

func (r *errorRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const errorCols = `id, error_number, error_type, severity, status, prescription_id, drug_id, drug_name,
	patient_id, patient_name, description, contributing_factors, reported_by, reporter_role, discovered_by,
	corrective_actions, preventive_actions, follow_up_actions, patient_notified, prescriber_notified,
	reported_to_fda, fda_report_number, reported_to_ismp, occurred_at, reported_at, updated_at`

var searchFilters = map[string]db.Filter{
	"type":     {Type: db.FilterExact, Column: "error_type"},
	"severity": {Type: db.FilterExact, Column: "severity"},
	"status":   {Type: db.FilterExact, Column: "status"},
	"patient":  {Type: db.FilterExact, Column: "patient_id"},
	"drug":     {Type: db.FilterContains, Column: "drug_name"},
}

func scanError(row pgx.Row) (*MedicationError, error) {
	var e MedicationError
	err := row.Scan(&e.ID, &e.ErrorNumber, &e.ErrorType, &e.Severity, &e.Status, &e.PrescriptionID, &e.DrugID, &e.DrugName,
		&e.PatientID, &e.PatientName, &e.Description, &e.ContributingFactors, &e.ReportedBy, &e.ReporterRole, &e.DiscoveredBy,
		&e.CorrectiveActions, &e.PreventiveActions, &e.FollowUpActions, &e.PatientNotified, &e.PrescriberNotified,
		&e.ReportedToFDA, &e.FDAReportNumber, &e.ReportedToISMP, &e.OccurredAt, &e.ReportedAt, &e.UpdatedAt)
	return &e, err
}

func (r *errorRepoPG) Create(ctx context.Context, e *MedicationError) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication_error (id, error_number, error_type, severity, status, prescription_id, drug_id,
			drug_name, patient_id, patient_name, description, contributing_factors, reported_by, reporter_role,
			discovered_by, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING reported_at, updated_at`,
		e.ID, e.ErrorNumber, e.ErrorType, e.Severity, e.Status, e.PrescriptionID, e.DrugID,
		e.DrugName, e.PatientID, e.PatientName, e.Description, e.ContributingFactors, e.ReportedBy, e.ReporterRole,
		e.DiscoveredBy, e.OccurredAt).Scan(&e.ReportedAt, &e.UpdatedAt)
}

func (r *errorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationError, error) {
	e, err := scanError(r.conn(ctx).QueryRow(ctx, `SELECT `+errorCols+` FROM medication_error WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *errorRepoPG) Update(ctx context.Context, e *MedicationError) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_error SET status=$2, corrective_actions=$3, preventive_actions=$4,
			follow_up_actions=$5, patient_notified=$6, prescriber_notified=$7, reported_to_fda=$8,
			fda_report_number=$9, reported_to_ismp=$10, updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.Status, e.CorrectiveActions, e.PreventiveActions,
		e.FollowUpActions, e.PatientNotified, e.PrescriberNotified, e.ReportedToFDA,
		e.FDAReportNumber, e.ReportedToISMP)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *errorRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicationError, int, error) {
	q := db.NewQuery("medication_error", errorCols)
	q.ApplyParams(params, searchFilters)
	q.OrderBy("reported_at DESC, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	return items, total, err
}

func (r *errorRepoPG) ListOpen(ctx context.Context) ([]*MedicationError, error) {
	return r.list(ctx, `SELECT `+errorCols+` FROM medication_error
		WHERE status = $1 ORDER BY reported_at, id`, StatusOpen)
}

func (r *errorRepoPG) ListInRange(ctx context.Context, rng daterange.Range) ([]*MedicationError, error) {
	q := db.NewQuery("medication_error", errorCols)
	q.Between("reported_at", rng.From, rng.To)
	q.OrderBy("reported_at, id")
	return r.list(ctx, q.SQL(), q.Args()...)
}

func (r *errorRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*MedicationError, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MedicationError
	for rows.Next() {
		e, err := scanError(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
