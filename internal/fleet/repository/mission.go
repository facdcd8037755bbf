package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/internal/fleet/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// MissionRepository persists missions.
type MissionRepository struct {
	db *database.DB
}

// NewMissionRepository creates a new mission repository
func NewMissionRepository(db *database.DB) *MissionRepository {
	return &MissionRepository{db: db}
}

const missionSelect = `
	SELECT id, company_id, branch_id, route_id, address, lat, lon, date, status, seq,
	       created_at, updated_at, deleted_at
	FROM mission`

// Create inserts a mission.
func (r *MissionRepository) Create(ctx context.Context, m *domain.Mission) error {
	row := r.db.Ext(ctx).QueryRowxContext(ctx,
		`INSERT INTO mission (id, company_id, branch_id, address, lat, lon, date, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		m.ID, m.CompanyID, m.BranchID, m.Address, m.Lat, m.Lon, m.Date, m.Status)
	if err := row.Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// GetByID loads one mission within the company.
func (r *MissionRepository) GetByID(ctx context.Context, companyID, id string) (*domain.Mission, error) {
	var m domain.Mission
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &m,
		missionSelect+` WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("mission")
		}
		return nil, database.WrapError(err)
	}
	return &m, nil
}

// MissionFilter narrows a mission listing.
type MissionFilter struct {
	Date       *time.Time
	BranchID   string
	Status     string
	Unassigned bool
}

// List returns the company's missions matching the filter, ordered by date
// then sequence.
func (r *MissionRepository) List(ctx context.Context, companyID string, f MissionFilter) ([]*domain.Mission, error) {
	query := missionSelect + ` WHERE company_id = $1 AND deleted_at IS NULL`
	args := []interface{}{companyID}

	next := 2
	add := func(clause string, v interface{}) {
		query += clause
		args = append(args, v)
		next++
	}
	if f.Date != nil {
		add(` AND date = $`+strconv.Itoa(next), *f.Date)
	}
	if f.BranchID != "" {
		add(` AND branch_id = $`+strconv.Itoa(next), f.BranchID)
	}
	if f.Status != "" {
		add(` AND status = $`+strconv.Itoa(next), f.Status)
	}
	if f.Unassigned {
		query += ` AND route_id IS NULL`
	}
	query += ` ORDER BY date, seq NULLS LAST, created_at`

	var missions []*domain.Mission
	if err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &missions, query, args...); err != nil {
		return nil, database.WrapError(err)
	}
	return missions, nil
}

// ListByRoute returns a route's missions in stop order.
func (r *MissionRepository) ListByRoute(ctx context.Context, companyID, routeID string) ([]*domain.Mission, error) {
	var missions []*domain.Mission
	err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &missions,
		missionSelect+` WHERE route_id = $1 AND company_id = $2 AND deleted_at IS NULL ORDER BY seq`,
		routeID, companyID)
	if err != nil {
		return nil, database.WrapError(err)
	}
	return missions, nil
}

// Update applies the editable fields.
func (r *MissionRepository) Update(ctx context.Context, m *domain.Mission) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE mission
		 SET address = $3, lat = $4, lon = $5, date = $6, status = $7, branch_id = $8, updated_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		m.ID, m.CompanyID, m.Address, m.Lat, m.Lon, m.Date, m.Status, m.BranchID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("mission")
	}
	return nil
}

// AssignToRoute binds a mission to a route at the given stop position.
func (r *MissionRepository) AssignToRoute(ctx context.Context, companyID, missionID, routeID string, seq int) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE mission SET route_id = $3, seq = $4, status = $5, updated_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		missionID, companyID, routeID, seq, domain.MissionAssigned)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("mission")
	}
	return nil
}

// Delete soft-deletes a mission.
func (r *MissionRepository) Delete(ctx context.Context, companyID, id string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE mission SET deleted_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("mission")
	}
	return nil
}
