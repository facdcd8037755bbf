package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/internal/company/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// BalanceRepository persists the per-company consumable balance. All
// mutations are single conditional UPDATEs; concurrent consumers serialize on
// the row without explicit locks.
type BalanceRepository struct {
	db *database.DB
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db *database.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

const balanceSelect = `
	SELECT company_id, type, total, remaining, monthly_limit, period_start, created_at, updated_at
	FROM company_balance`

// Get loads the company's balance row.
func (r *BalanceRepository) Get(ctx context.Context, companyID string) (*domain.CompanyBalance, error) {
	var b domain.CompanyBalance
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &b,
		balanceSelect+` WHERE company_id = $1`, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("company balance")
		}
		return nil, database.WrapError(err)
	}
	return &b, nil
}

// EnsureRow lazily creates the balance row with the default type and NULL
// (unlimited) counters. Idempotent under concurrency via ON CONFLICT.
func (r *BalanceRepository) EnsureRow(ctx context.Context, q sqlx.ExtContext, companyID string) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO company_balance (company_id, type) VALUES ($1, $2)
		 ON CONFLICT (company_id) DO NOTHING`,
		companyID, domain.BalancePerMissions); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// CurrentType returns the balance type without touching the counters.
func (r *BalanceRepository) CurrentType(ctx context.Context, companyID string) (domain.BalanceType, error) {
	var t domain.BalanceType
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &t,
		`SELECT type FROM company_balance WHERE company_id = $1`, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errors.NotFound("company balance")
		}
		return "", database.WrapError(err)
	}
	return t, nil
}

// ConsumeMission decrements the per-mission balance. NULL remaining is
// unlimited and passes without decrementing. Reports whether the gate passed;
// zero rows means the balance is exhausted.
func (r *BalanceRepository) ConsumeMission(ctx context.Context, companyID string) (bool, error) {
	res, err := r.db.Ext(ctx).ExecContext(ctx, `
		UPDATE company_balance
		SET remaining = remaining - 1, updated_at = now()
		WHERE company_id = $1 AND type = $2 AND remaining IS NOT NULL AND remaining > 0`,
		companyID, domain.BalancePerMissions)
	if err != nil {
		return false, database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	// Either unlimited (NULL remaining) or exhausted; one more read decides.
	var remaining sql.NullInt64
	err = sqlx.GetContext(ctx, r.db.Ext(ctx), &remaining,
		`SELECT remaining FROM company_balance WHERE company_id = $1 AND type = $2`,
		companyID, domain.BalancePerMissions)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Row exists with another type; the caller treats that as a no-op.
			return true, nil
		}
		return false, database.WrapError(err)
	}
	return !remaining.Valid, nil
}

// ConsumeVehicleMonth decrements the monthly vehicle allowance, rolling the
// period over first when the stored period is older than the current month.
// The rollover and the decrement are one statement, so two vehicle creations
// racing across a month boundary cannot double-reset.
func (r *BalanceRepository) ConsumeVehicleMonth(ctx context.Context, companyID string) (bool, error) {
	res, err := r.db.Ext(ctx).ExecContext(ctx, `
		UPDATE company_balance
		SET remaining = CASE
		        WHEN monthly_limit IS NULL THEN remaining
		        WHEN period_start IS NULL OR period_start < date_trunc('month', now())::date
		            THEN monthly_limit - 1
		        ELSE remaining - 1
		    END,
		    period_start = CASE
		        WHEN period_start IS NULL OR period_start < date_trunc('month', now())::date
		            THEN date_trunc('month', now())::date
		        ELSE period_start
		    END,
		    updated_at = now()
		WHERE company_id = $1 AND type = $2
		  AND (
		        monthly_limit IS NULL
		     OR period_start IS NULL
		     OR period_start < date_trunc('month', now())::date
		     OR (remaining IS NOT NULL AND remaining > 0)
		  )`,
		companyID, domain.BalancePerVehiclesPerMonth)
	if err != nil {
		return false, database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var t domain.BalanceType
	err = sqlx.GetContext(ctx, r.db.Ext(ctx), &t,
		`SELECT type FROM company_balance WHERE company_id = $1`, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, database.WrapError(err)
	}
	// Row exists with this type but the gate matched nothing: exhausted.
	return t != domain.BalancePerVehiclesPerMonth, nil
}

// TopUpMissions adds quantity to total and remaining, switching the type to
// per_missions if needed. Returns the post-state.
func (r *BalanceRepository) TopUpMissions(ctx context.Context, companyID string, quantity int) (*domain.CompanyBalance, error) {
	var b domain.CompanyBalance
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &b, `
		UPDATE company_balance
		SET type = $2,
		    total = COALESCE(total, 0) + $3,
		    remaining = COALESCE(remaining, 0) + $3,
		    monthly_limit = NULL,
		    period_start = NULL,
		    updated_at = now()
		WHERE company_id = $1
		RETURNING company_id, type, total, remaining, monthly_limit, period_start, created_at, updated_at`,
		companyID, domain.BalancePerMissions, quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("company balance")
		}
		return nil, database.WrapError(err)
	}
	return &b, nil
}

// SetMonthlyVehicleLimit switches the balance to the monthly vehicle type
// with a fresh period starting this month. Returns the post-state.
func (r *BalanceRepository) SetMonthlyVehicleLimit(ctx context.Context, companyID string, quantity int) (*domain.CompanyBalance, error) {
	var b domain.CompanyBalance
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &b, `
		UPDATE company_balance
		SET type = $2,
		    total = $3,
		    remaining = $3,
		    monthly_limit = $3,
		    period_start = date_trunc('month', now())::date,
		    updated_at = now()
		WHERE company_id = $1
		RETURNING company_id, type, total, remaining, monthly_limit, period_start, created_at, updated_at`,
		companyID, domain.BalancePerVehiclesPerMonth, quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("company balance")
		}
		return nil, database.WrapError(err)
	}
	return &b, nil
}

// RecordPurchase appends the audit row for a balance mutation.
func (r *BalanceRepository) RecordPurchase(ctx context.Context, p *domain.BalancePurchase) error {
	row := r.db.Ext(ctx).QueryRowxContext(ctx, `
		INSERT INTO company_balance_purchase
			(id, company_id, type, quantity, created_by_id,
			 total_after, remaining_after, monthly_limit_after, period_start_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		p.ID, p.CompanyID, p.Type, p.Quantity, p.CreatedByID,
		p.TotalAfter, p.RemainingAfter, p.MonthlyLimitAfter, p.PeriodStartAfter)
	if err := row.Scan(&p.CreatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// ListPurchases returns the company's balance audit trail, newest first.
func (r *BalanceRepository) ListPurchases(ctx context.Context, companyID string) ([]*domain.BalancePurchase, error) {
	var purchases []*domain.BalancePurchase
	err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &purchases, `
		SELECT id, company_id, type, quantity, created_by_id,
		       total_after, remaining_after, monthly_limit_after, period_start_after, created_at
		FROM company_balance_purchase
		WHERE company_id = $1
		ORDER BY created_at DESC`,
		companyID)
	if err != nil {
		return nil, database.WrapError(err)
	}
	return purchases, nil
}
