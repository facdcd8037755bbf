// Package repository persists the fleet models. Every query filters
// company_id explicitly even though the row policies already isolate
// tenants; the two layers back each other up.
package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/internal/fleet/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// DriverRepository persists drivers.
type DriverRepository struct {
	db *database.DB
}

// NewDriverRepository creates a new driver repository
func NewDriverRepository(db *database.DB) *DriverRepository {
	return &DriverRepository{db: db}
}

const driverSelect = `
	SELECT id, name, phone, license_no, company_id, branch_id, created_at, updated_at, deleted_at
	FROM driver`

// Create inserts a driver.
func (r *DriverRepository) Create(ctx context.Context, d *domain.Driver) error {
	row := r.db.Ext(ctx).QueryRowxContext(ctx,
		`INSERT INTO driver (id, name, phone, license_no, company_id, branch_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Phone, d.LicenseNo, d.CompanyID, d.BranchID)
	if err := row.Scan(&d.CreatedAt, &d.UpdatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// GetByID loads one driver within the company.
func (r *DriverRepository) GetByID(ctx context.Context, companyID, id string) (*domain.Driver, error) {
	var d domain.Driver
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &d,
		driverSelect+` WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("driver")
		}
		return nil, database.WrapError(err)
	}
	return &d, nil
}

// List returns the company's drivers, optionally narrowed to a branch.
func (r *DriverRepository) List(ctx context.Context, companyID, branchID string) ([]*domain.Driver, error) {
	query := driverSelect + ` WHERE company_id = $1 AND deleted_at IS NULL`
	args := []interface{}{companyID}
	if branchID != "" {
		query += ` AND branch_id = $2`
		args = append(args, branchID)
	}
	query += ` ORDER BY name`

	var drivers []*domain.Driver
	if err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &drivers, query, args...); err != nil {
		return nil, database.WrapError(err)
	}
	return drivers, nil
}

// Update applies the editable fields.
func (r *DriverRepository) Update(ctx context.Context, d *domain.Driver) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE driver SET name = $3, phone = $4, license_no = $5, branch_id = $6, updated_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		d.ID, d.CompanyID, d.Name, d.Phone, d.LicenseNo, d.BranchID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("driver")
	}
	return nil
}

// Delete soft-deletes a driver.
func (r *DriverRepository) Delete(ctx context.Context, companyID, id string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE driver SET deleted_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("driver")
	}
	return nil
}
