package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dispatchd/dispatch-backend/internal/company/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// RoleRepository persists roles.
type RoleRepository struct {
	db *database.DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *database.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

const roleSelect = `
	SELECT id, name, description, authorizations, company_id, created_at, updated_at, deleted_at
	FROM role`

// Create inserts a role. Takes an explicit query target so company
// registration can create the admin role in its own transaction.
func (r *RoleRepository) Create(ctx context.Context, q sqlx.ExtContext, role *domain.Role) error {
	row := q.QueryRowxContext(ctx,
		`INSERT INTO role (id, name, description, authorizations, company_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		role.ID, role.Name, role.Description, pq.Array([]string(role.Authorizations)), role.CompanyID)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// GetByID loads one role within the company.
func (r *RoleRepository) GetByID(ctx context.Context, companyID, id string) (*domain.Role, error) {
	var role domain.Role
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &role,
		roleSelect+` WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("role")
		}
		return nil, database.WrapError(err)
	}
	return &role, nil
}

// List returns the company's roles.
func (r *RoleRepository) List(ctx context.Context, companyID string) ([]*domain.Role, error) {
	var roles []*domain.Role
	err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &roles,
		roleSelect+` WHERE company_id = $1 AND deleted_at IS NULL ORDER BY created_at`, companyID)
	if err != nil {
		return nil, database.WrapError(err)
	}
	return roles, nil
}

// Update replaces the role's name, description and authorizations.
func (r *RoleRepository) Update(ctx context.Context, role *domain.Role) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE role SET name = $3, description = $4, authorizations = $5, updated_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		role.ID, role.CompanyID, role.Name, role.Description, pq.Array([]string(role.Authorizations)))
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("role")
	}
	return nil
}

// Delete soft-deletes a role. The companyAdmin protection lives in the
// service.
func (r *RoleRepository) Delete(ctx context.Context, companyID, id string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE role SET deleted_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		id, companyID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("role")
	}
	return nil
}
