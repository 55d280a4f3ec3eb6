package formulary

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/pharmacy/internal/platform/db"
)

type entryRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &entryRepoPG{pool: pool}
}

func (r *entryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const entryCols = `id, drug_id, insurance_plan, tier, status, copay_amount::float8, coinsurance_percent::float8,
	deductible_amount::float8, quantity_limit, quantity_limit_period, prior_auth_criteria, step_therapy,
	preferred_alternatives, notes, effective_date, expiration_date, active, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.DrugID, &e.InsurancePlan, &e.Tier, &e.Status, &e.CopayAmount, &e.CoinsurancePercent,
		&e.DeductibleAmount, &e.QuantityLimit, &e.QuantityLimitPeriod, &e.PriorAuthCriteria, &e.StepTherapy,
		&e.PreferredAlternatives, &e.Notes, &e.EffectiveDate, &e.ExpirationDate, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func nonNil(e *Entry) {
	if e.PriorAuthCriteria == nil {
		e.PriorAuthCriteria = []string{}
	}
	if e.StepTherapy == nil {
		e.StepTherapy = []string{}
	}
	if e.PreferredAlternatives == nil {
		e.PreferredAlternatives = []uuid.UUID{}
	}
}

func (r *entryRepoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	nonNil(e)
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO formulary_entry (id, drug_id, insurance_plan, tier, status, copay_amount,
			coinsurance_percent, deductible_amount, quantity_limit, quantity_limit_period,
			prior_auth_criteria, step_therapy, preferred_alternatives, notes, effective_date,
			expiration_date, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		e.ID, e.DrugID, e.InsurancePlan, e.Tier, e.Status, e.CopayAmount,
		e.CoinsurancePercent, e.DeductibleAmount, e.QuantityLimit, e.QuantityLimitPeriod,
		e.PriorAuthCriteria, e.StepTherapy, e.PreferredAlternatives, e.Notes, e.EffectiveDate,
		e.ExpirationDate, e.Active).Scan(&e.CreatedAt, &e.UpdatedAt)
	return uniqueViolation(err)
}

func (r *entryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM formulary_entry WHERE id = $1 AND active`, id))
}

func (r *entryRepoPG) Update(ctx context.Context, e *Entry) error {
	nonNil(e)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE formulary_entry SET insurance_plan=$2, tier=$3, status=$4, copay_amount=$5,
			coinsurance_percent=$6, deductible_amount=$7, quantity_limit=$8, quantity_limit_period=$9,
			prior_auth_criteria=$10, step_therapy=$11, preferred_alternatives=$12, notes=$13,
			effective_date=$14, expiration_date=$15, updated_at=NOW()
		WHERE id = $1 AND active`,
		e.ID, e.InsurancePlan, e.Tier, e.Status, e.CopayAmount,
		e.CoinsurancePercent, e.DeductibleAmount, e.QuantityLimit, e.QuantityLimitPeriod,
		e.PriorAuthCriteria, e.StepTherapy, e.PreferredAlternatives, e.Notes,
		e.EffectiveDate, e.ExpirationDate)
	if err != nil {
		return uniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *entryRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE formulary_entry SET active = FALSE, updated_at = NOW() WHERE id = $1 AND active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *entryRepoPG) FindByDrugAndPlan(ctx context.Context, drugID uuid.UUID, plan string) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM formulary_entry
		WHERE drug_id = $1 AND insurance_plan = $2 AND active`, drugID, plan))
}

func (r *entryRepoPG) List(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	q := db.NewQuery("formulary_entry", entryCols)
	q.Add("active")
	q.OrderBy("insurance_plan, tier, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	return items, total, err
}

func (r *entryRepoPG) ListByPlan(ctx context.Context, plan string) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+entryCols+` FROM formulary_entry
		WHERE insurance_plan = $1 AND active ORDER BY tier, id`, plan)
}

func (r *entryRepoPG) ListByTier(ctx context.Context, tier string) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+entryCols+` FROM formulary_entry
		WHERE tier = $1 AND active ORDER BY insurance_plan, id`, tier)
}

func (r *entryRepoPG) ListForDrugs(ctx context.Context, drugIDs []uuid.UUID, plan string) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+entryCols+` FROM formulary_entry
		WHERE drug_id = ANY($1) AND insurance_plan = $2 AND active ORDER BY tier, id`, drugIDs, plan)
}

func (r *entryRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
