package refill

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/pkg/daterange"
)

type refillRepoPG struct{ pool *pgxpool.Pool }

func NewRefillRepoPG(pool *pgxpool.Pool) RefillRepository {
	return &refillRepoPG{pool: pool}
}

func (r *refillRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const refillCols = `r.id, r.original_prescription_id, r.refill_prescription_id, r.refill_number,
	r.pharmacist_id, r.pharmacist_name, r.patient_request_date, r.notes, r.refill_date`

func scanRefill(row pgx.Row) (*Refill, error) {
	var f Refill
	err := row.Scan(&f.ID, &f.OriginalPrescriptionID, &f.RefillPrescriptionID, &f.RefillNumber,
		&f.PharmacistID, &f.PharmacistName, &f.PatientRequestDate, &f.Notes, &f.RefillDate)
	return &f, err
}

func (r *refillRepoPG) Create(ctx context.Context, f *Refill) error {
	f.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription_refill (id, original_prescription_id, refill_prescription_id,
			refill_number, pharmacist_id, pharmacist_name, patient_request_date, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING refill_date`,
		f.ID, f.OriginalPrescriptionID, f.RefillPrescriptionID,
		f.RefillNumber, f.PharmacistID, f.PharmacistName, f.PatientRequestDate, f.Notes).Scan(&f.RefillDate)
}

func (r *refillRepoPG) ListByOriginal(ctx context.Context, originalID uuid.UUID) ([]*Refill, error) {
	return r.list(ctx, `SELECT `+refillCols+` FROM prescription_refill r
		WHERE r.original_prescription_id = $1
		ORDER BY r.refill_date DESC, r.refill_number DESC`, originalID)
}

func (r *refillRepoPG) ListByPatient(ctx context.Context, patientID string) ([]*Refill, error) {
	return r.list(ctx, `SELECT `+refillCols+` FROM prescription_refill r
		JOIN prescription p ON p.id = r.original_prescription_id
		WHERE p.patient_id = $1
		ORDER BY r.refill_date DESC, r.id`, patientID)
}

func (r *refillRepoPG) ListInRange(ctx context.Context, rng daterange.Range) ([]*Refill, error) {
	q := db.NewQuery("prescription_refill r", refillCols)
	q.Between("r.refill_date", rng.From, rng.To)
	q.OrderBy("r.refill_date, r.id")
	return r.list(ctx, q.SQL(), q.Args()...)
}

func (r *refillRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Refill, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Refill
	for rows.Next() {
		f, err := scanRefill(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}
