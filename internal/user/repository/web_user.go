package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/internal/user/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/reserved"
)

// WebUserRepository persists back-office users.
type WebUserRepository struct {
	db *database.DB
}

// NewWebUserRepository creates a new web user repository
func NewWebUserRepository(db *database.DB) *WebUserRepository {
	return &WebUserRepository{db: db}
}

const webUserSelect = `
	SELECT u.id, u.username, u.password_hash, u.email, u.phone, u.address, u.image_url,
	       u.company_id, u.branch_id, u.role_id, COALESCE(r.name, '') AS role_name,
	       u.is_super_admin, u.created_at, u.updated_at, u.deleted_at
	FROM web_user u
	LEFT JOIN role r ON r.id = u.role_id AND r.deleted_at IS NULL`

// Create inserts a web user. Takes an explicit query target because company
// registration and superadmin seeding run outside any request context.
func (r *WebUserRepository) Create(ctx context.Context, q sqlx.ExtContext, u *domain.WebUser) error {
	query := `
		INSERT INTO web_user (id, username, password_hash, email, phone, address,
		                      company_id, branch_id, role_id, is_super_admin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	row := q.QueryRowxContext(ctx, query,
		u.ID, u.Username, u.PasswordHash, u.Email, u.Phone, u.Address,
		u.CompanyID, u.BranchID, u.RoleID, u.IsSuperAdmin)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// GetByID loads one web user within the request's tenant scope.
func (r *WebUserRepository) GetByID(ctx context.Context, id string) (*domain.WebUser, error) {
	var u domain.WebUser
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &u,
		webUserSelect+` WHERE u.id = $1 AND u.deleted_at IS NULL`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("user")
		}
		return nil, database.WrapError(err)
	}
	return &u, nil
}

// List returns the company's web users.
func (r *WebUserRepository) List(ctx context.Context, companyID string) ([]*domain.WebUser, error) {
	var users []*domain.WebUser
	err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &users,
		webUserSelect+` WHERE u.company_id = $1 AND u.deleted_at IS NULL ORDER BY u.created_at DESC`,
		companyID)
	if err != nil {
		return nil, database.WrapError(err)
	}
	return users, nil
}

// ExistsByUsername reports whether a live web user holds the username.
// Usernames are globally unique for web actors.
func (r *WebUserRepository) ExistsByUsername(ctx context.Context, q sqlx.ExtContext, username string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists,
		`SELECT EXISTS (SELECT 1 FROM web_user WHERE lower(username) = $1 AND deleted_at IS NULL)`,
		reserved.Normalize(username))
	if err != nil {
		return false, database.WrapError(err)
	}
	return exists, nil
}

// Update applies the editable profile fields.
func (r *WebUserRepository) Update(ctx context.Context, u *domain.WebUser) error {
	query := `
		UPDATE web_user
		SET email = $2, phone = $3, address = $4, image_url = $5,
		    branch_id = $6, role_id = $7, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	res, err := r.db.Ext(ctx).ExecContext(ctx, query,
		u.ID, u.Email, u.Phone, u.Address, u.ImageURL, u.BranchID, u.RoleID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("user")
	}
	return nil
}

// UpdatePassword replaces the stored hash.
func (r *WebUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE web_user SET password_hash = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id, passwordHash)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("user")
	}
	return nil
}

// Delete soft-deletes a web user.
func (r *WebUserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE web_user SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("user")
	}
	return nil
}
