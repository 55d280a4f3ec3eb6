package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/pharmacy/internal/platform/db"
)

// =========== Drug Repository ===========

type drugRepoPG struct{ pool *pgxpool.Pool }

func NewDrugRepoPG(pool *pgxpool.Pool) DrugRepository {
	return &drugRepoPG{pool: pool}
}

func (r *drugRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const drugCols = `id, generic_name, brand_name, strength, dosage_form, route,
	controlled_schedule, contraindications, side_effects, requires_refrigeration,
	is_hazardous, unit_cost, active, created_at, updated_at`

func scanDrug(row pgx.Row) (*Drug, error) {
	var d Drug
	err := row.Scan(&d.ID, &d.GenericName, &d.BrandName, &d.Strength, &d.DosageForm, &d.Route,
		&d.ControlledSchedule, &d.Contraindications, &d.SideEffects, &d.RequiresRefrigeration,
		&d.IsHazardous, &d.UnitCost, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *drugRepoPG) Create(ctx context.Context, d *Drug) error {
	d.ID = uuid.New()
	if d.Contraindications == nil {
		d.Contraindications = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug (id, generic_name, brand_name, strength, dosage_form, route,
			controlled_schedule, contraindications, side_effects, requires_refrigeration,
			is_hazardous, unit_cost, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		d.ID, d.GenericName, d.BrandName, d.Strength, d.DosageForm, d.Route,
		d.ControlledSchedule, d.Contraindications, d.SideEffects, d.RequiresRefrigeration,
		d.IsHazardous, d.UnitCost, d.Active).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *drugRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return scanDrug(r.conn(ctx).QueryRow(ctx, `SELECT `+drugCols+` FROM drug WHERE id = $1`, id))
}

func (r *drugRepoPG) Update(ctx context.Context, d *Drug) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE drug SET generic_name=$2, brand_name=$3, strength=$4, dosage_form=$5, route=$6,
			controlled_schedule=$7, contraindications=$8, side_effects=$9,
			requires_refrigeration=$10, is_hazardous=$11, unit_cost=$12, active=$13,
			updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.GenericName, d.BrandName, d.Strength, d.DosageForm, d.Route,
		d.ControlledSchedule, d.Contraindications, d.SideEffects,
		d.RequiresRefrigeration, d.IsHazardous, d.UnitCost, d.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var drugFilters = map[string]db.Filter{
	"name":         {Type: db.FilterContains, Column: "generic_name"},
	"brand":        {Type: db.FilterContains, Column: "brand_name"},
	"route":        {Type: db.FilterExact, Column: "route"},
	"schedule":     {Type: db.FilterExact, Column: "controlled_schedule"},
	"active":       {Type: db.FilterBool, Column: "active"},
	"hazardous":    {Type: db.FilterBool, Column: "is_hazardous"},
	"refrigerated": {Type: db.FilterBool, Column: "requires_refrigeration"},
}

func (r *drugRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Drug, int, error) {
	q := db.NewQuery("drug", drugCols)
	q.ApplyParams(params, drugFilters)
	q.OrderBy("generic_name, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Drug
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// =========== Prescription Repository ===========

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const rxCols = `id, prescription_number, patient_id, patient_name, prescriber_id, prescriber_name,
	prescription_date, status, refills_allowed, refills_remaining, requires_counseling,
	original_prescription_id, notes, dispensed_at, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PrescriptionNumber, &p.PatientID, &p.PatientName, &p.PrescriberID, &p.PrescriberName,
		&p.PrescriptionDate, &p.Status, &p.RefillsAllowed, &p.RefillsRemaining, &p.RequiresCounseling,
		&p.OriginalPrescriptionID, &p.Notes, &p.DispensedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO prescription (id, prescription_number, patient_id, patient_name, prescriber_id,
				prescriber_name, prescription_date, status, refills_allowed, refills_remaining,
				requires_counseling, original_prescription_id, notes, dispensed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			RETURNING created_at, updated_at`,
			p.ID, p.PrescriptionNumber, p.PatientID, p.PatientName, p.PrescriberID,
			p.PrescriberName, p.PrescriptionDate, p.Status, p.RefillsAllowed, p.RefillsRemaining,
			p.RequiresCounseling, p.OriginalPrescriptionID, p.Notes, p.DispensedAt).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicateNumber
			}
			return fmt.Errorf("insert prescription: %w", err)
		}

		for i, it := range p.Items {
			it.ID = uuid.New()
			it.PrescriptionID = p.ID
			it.Position = i
			if _, err := r.conn(ctx).Exec(ctx, `
				INSERT INTO prescription_item (id, prescription_id, position, drug_id, dosage_instructions,
					quantity_prescribed, quantity_dispensed, day_supply)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				it.ID, it.PrescriptionID, it.Position, it.DrugID, it.DosageInstructions,
				it.QuantityPrescribed, it.QuantityDispensed, it.DaySupply); err != nil {
				return fmt.Errorf("insert prescription item %d: %w", i, err)
			}
		}
		return nil
	})
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM prescription WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, []*Prescription{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *prescriptionRepoPG) Update(ctx context.Context, p *Prescription) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET status=$2, refills_remaining=$3, requires_counseling=$4,
			notes=$5, dispensed_at=$6, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Status, p.RefillsRemaining, p.RequiresCounseling, p.Notes, p.DispensedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *prescriptionRepoPG) ConsumeRefill(ctx context.Context, id uuid.UUID) (int, error) {
	var remaining int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE prescription SET refills_remaining = refills_remaining - 1, updated_at = NOW()
		WHERE id = $1 AND refills_remaining > 0
		RETURNING refills_remaining`, id).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoRefillsLeft
		}
		return 0, err
	}
	return remaining, nil
}

var prescriptionFilters = map[string]db.Filter{
	"patient_id":    {Type: db.FilterExact, Column: "patient_id"},
	"prescriber_id": {Type: db.FilterExact, Column: "prescriber_id"},
	"status":        {Type: db.FilterExact, Column: "status"},
	"number":        {Type: db.FilterExact, Column: "prescription_number"},
	"from":          {Type: db.FilterFrom, Column: "prescription_date"},
	"to":            {Type: db.FilterTo, Column: "prescription_date"},
}

func (r *prescriptionRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Prescription, int, error) {
	q := db.NewQuery("prescription", rxCols)
	q.ApplyParams(params, prescriptionFilters)
	q.OrderBy("prescription_date DESC, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := r.attachItems(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

const itemCols = `i.id, i.prescription_id, i.position, i.drug_id, i.dosage_instructions,
	i.quantity_prescribed, i.quantity_dispensed, i.day_supply`

// attachItems loads items and drugs for all given prescriptions in one query.
func (r *prescriptionRepoPG) attachItems(ctx context.Context, ps []*Prescription) error {
	if len(ps) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Prescription, len(ps))
	ids := make([]uuid.UUID, 0, len(ps))
	for _, p := range ps {
		p.Items = []*PrescriptionItem{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+`, d.id, d.generic_name, d.brand_name, d.strength, d.dosage_form, d.route,
			d.controlled_schedule, d.contraindications, d.side_effects, d.requires_refrigeration,
			d.is_hazardous, d.unit_cost, d.active, d.created_at, d.updated_at
		FROM prescription_item i
		JOIN drug d ON d.id = i.drug_id
		WHERE i.prescription_id = ANY($1)
		ORDER BY i.prescription_id, i.position`, ids)
	if err != nil {
		return fmt.Errorf("load prescription items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it PrescriptionItem
		var d Drug
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.Position, &it.DrugID, &it.DosageInstructions,
			&it.QuantityPrescribed, &it.QuantityDispensed, &it.DaySupply,
			&d.ID, &d.GenericName, &d.BrandName, &d.Strength, &d.DosageForm, &d.Route,
			&d.ControlledSchedule, &d.Contraindications, &d.SideEffects, &d.RequiresRefrigeration,
			&d.IsHazardous, &d.UnitCost, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return err
		}
		it.Drug = &d
		if p := byID[it.PrescriptionID]; p != nil {
			p.Items = append(p.Items, &it)
		}
	}
	return rows.Err()
}
