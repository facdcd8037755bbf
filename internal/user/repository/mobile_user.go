package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dispatchd/dispatch-backend/internal/user/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// MobileUserRepository persists mobile users. Read paths run on the request
// transaction through db.Ext; the create path takes an explicit query target
// because invite registration runs before any request context exists.
type MobileUserRepository struct {
	db *database.DB
}

// NewMobileUserRepository creates a new mobile user repository
func NewMobileUserRepository(db *database.DB) *MobileUserRepository {
	return &MobileUserRepository{db: db}
}

const mobileUserSelect = `
	SELECT id, username, password_hash, email, phone, address,
	       company_id, branch_id, role_id, driver_id,
	       permissions, is_blocked, is_super_admin,
	       created_at, updated_at, deleted_at
	FROM mobile_user`

// Create inserts a mobile user.
func (r *MobileUserRepository) Create(ctx context.Context, q sqlx.ExtContext, u *domain.MobileUser) error {
	query := `
		INSERT INTO mobile_user (id, username, password_hash, email, phone,
		                         company_id, branch_id, role_id, driver_id, permissions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	row := q.QueryRowxContext(ctx, query,
		u.ID, u.Username, u.PasswordHash, u.Email, u.Phone,
		u.CompanyID, u.BranchID, u.RoleID, u.DriverID, pq.Array([]string(u.Permissions)),
	)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// ExistsByUsernameInCompany reports whether a live mobile user in the company
// holds the username. Mobile usernames are unique per company only.
func (r *MobileUserRepository) ExistsByUsernameInCompany(ctx context.Context, q sqlx.ExtContext, companyID, username string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists,
		`SELECT EXISTS (
			SELECT 1 FROM mobile_user
			WHERE company_id = $1 AND lower(username) = lower($2) AND deleted_at IS NULL
		)`, companyID, username)
	if err != nil {
		return false, database.WrapError(err)
	}
	return exists, nil
}

// GetByID loads one mobile user within the request's tenant scope.
func (r *MobileUserRepository) GetByID(ctx context.Context, id string) (*domain.MobileUser, error) {
	var u domain.MobileUser
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &u,
		mobileUserSelect+` WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("mobile user")
		}
		return nil, database.WrapError(err)
	}
	return &u, nil
}

// List returns the company's mobile users, optionally narrowed to a branch.
func (r *MobileUserRepository) List(ctx context.Context, companyID, branchID string) ([]*domain.MobileUser, error) {
	query := mobileUserSelect + ` WHERE company_id = $1 AND deleted_at IS NULL`
	args := []interface{}{companyID}
	if branchID != "" {
		query += ` AND branch_id = $2`
		args = append(args, branchID)
	}
	query += ` ORDER BY created_at DESC`

	var users []*domain.MobileUser
	if err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &users, query, args...); err != nil {
		return nil, database.WrapError(err)
	}
	return users, nil
}

// Update applies the editable profile fields.
func (r *MobileUserRepository) Update(ctx context.Context, u *domain.MobileUser) error {
	query := `
		UPDATE mobile_user
		SET email = $2, phone = $3, address = $4, branch_id = $5, role_id = $6,
		    permissions = $7, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	res, err := r.db.Ext(ctx).ExecContext(ctx, query,
		u.ID, u.Email, u.Phone, u.Address, u.BranchID, u.RoleID, pq.Array([]string(u.Permissions)))
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("mobile user")
	}
	return nil
}

// SetBlocked flips the block flag. Blocking takes effect on the next request
// because the pipeline re-reads the row every time.
func (r *MobileUserRepository) SetBlocked(ctx context.Context, id string, blocked bool) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE mobile_user SET is_blocked = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id, blocked)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("mobile user")
	}
	return nil
}

// Delete soft-deletes a mobile user.
func (r *MobileUserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE mobile_user SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("mobile user")
	}
	return nil
}
