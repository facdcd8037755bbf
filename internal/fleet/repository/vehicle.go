package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/internal/fleet/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// VehicleRepository persists vehicles.
type VehicleRepository struct {
	db *database.DB
}

// NewVehicleRepository creates a new vehicle repository
func NewVehicleRepository(db *database.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

const vehicleSelect = `
	SELECT id, name, plate, capacity, company_id, branch_id, driver_id,
	       created_at, updated_at, deleted_at
	FROM vehicle`

// Create inserts a vehicle.
func (r *VehicleRepository) Create(ctx context.Context, v *domain.Vehicle) error {
	row := r.db.Ext(ctx).QueryRowxContext(ctx,
		`INSERT INTO vehicle (id, name, plate, capacity, company_id, branch_id, driver_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		v.ID, v.Name, v.Plate, v.Capacity, v.CompanyID, v.BranchID, v.DriverID)
	if err := row.Scan(&v.CreatedAt, &v.UpdatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// GetByID loads one vehicle within the company.
func (r *VehicleRepository) GetByID(ctx context.Context, companyID, id string) (*domain.Vehicle, error) {
	var v domain.Vehicle
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &v,
		vehicleSelect+` WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("vehicle")
		}
		return nil, database.WrapError(err)
	}
	return &v, nil
}

// List returns the company's vehicles, optionally narrowed to a branch.
func (r *VehicleRepository) List(ctx context.Context, companyID, branchID string) ([]*domain.Vehicle, error) {
	query := vehicleSelect + ` WHERE company_id = $1 AND deleted_at IS NULL`
	args := []interface{}{companyID}
	if branchID != "" {
		query += ` AND branch_id = $2`
		args = append(args, branchID)
	}
	query += ` ORDER BY name`

	var vehicles []*domain.Vehicle
	if err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &vehicles, query, args...); err != nil {
		return nil, database.WrapError(err)
	}
	return vehicles, nil
}

// Update applies the editable fields.
func (r *VehicleRepository) Update(ctx context.Context, v *domain.Vehicle) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE vehicle
		 SET name = $3, plate = $4, capacity = $5, branch_id = $6, driver_id = $7, updated_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		v.ID, v.CompanyID, v.Name, v.Plate, v.Capacity, v.BranchID, v.DriverID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("vehicle")
	}
	return nil
}

// Delete soft-deletes a vehicle.
func (r *VehicleRepository) Delete(ctx context.Context, companyID, id string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE vehicle SET deleted_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("vehicle")
	}
	return nil
}
