package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/internal/fleet/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// RouteRepository persists planned routes.
type RouteRepository struct {
	db *database.DB
}

// NewRouteRepository creates a new route repository
func NewRouteRepository(db *database.DB) *RouteRepository {
	return &RouteRepository{db: db}
}

const routeSelect = `
	SELECT id, company_id, branch_id, vehicle_id, driver_id, date, geometry,
	       distance, duration, status, created_at, updated_at, deleted_at
	FROM route`

// Create inserts a route.
func (r *RouteRepository) Create(ctx context.Context, rt *domain.Route) error {
	row := r.db.Ext(ctx).QueryRowxContext(ctx,
		`INSERT INTO route (id, company_id, branch_id, vehicle_id, driver_id, date,
		                    geometry, distance, duration, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		rt.ID, rt.CompanyID, rt.BranchID, rt.VehicleID, rt.DriverID, rt.Date,
		rt.Geometry, rt.Distance, rt.Duration, rt.Status)
	if err := row.Scan(&rt.CreatedAt, &rt.UpdatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// GetByID loads one route within the company.
func (r *RouteRepository) GetByID(ctx context.Context, companyID, id string) (*domain.Route, error) {
	var rt domain.Route
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &rt,
		routeSelect+` WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("route")
		}
		return nil, database.WrapError(err)
	}
	return &rt, nil
}

// List returns the company's routes for a date, optionally narrowed to a
// branch.
func (r *RouteRepository) List(ctx context.Context, companyID string, date *time.Time, branchID string) ([]*domain.Route, error) {
	query := routeSelect + ` WHERE company_id = $1 AND deleted_at IS NULL`
	args := []interface{}{companyID}
	if date != nil {
		args = append(args, *date)
		query += ` AND date = $2`
	}
	if branchID != "" {
		args = append(args, branchID)
		if date != nil {
			query += ` AND branch_id = $3`
		} else {
			query += ` AND branch_id = $2`
		}
	}
	query += ` ORDER BY created_at DESC`

	var routes []*domain.Route
	if err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &routes, query, args...); err != nil {
		return nil, database.WrapError(err)
	}
	return routes, nil
}

// UpdateStatus transitions a route.
func (r *RouteRepository) UpdateStatus(ctx context.Context, companyID, id, status string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE route SET status = $3, updated_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		id, companyID, status)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("route")
	}
	return nil
}

// SetGeometry attaches the road engine result to a route.
func (r *RouteRepository) SetGeometry(ctx context.Context, companyID, id string, geometry *string, distance, duration *float64) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE route SET geometry = $3, distance = $4, duration = $5, updated_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		id, companyID, geometry, distance, duration)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("route")
	}
	return nil
}

// Delete soft-deletes a route and releases its missions back to pending.
func (r *RouteRepository) Delete(ctx context.Context, companyID, id string) error {
	if _, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE mission SET route_id = NULL, seq = NULL, status = $3, updated_at = now()
		 WHERE route_id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		id, companyID, domain.MissionPending); err != nil {
		return database.WrapError(err)
	}

	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE route SET deleted_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("route")
	}
	return nil
}
