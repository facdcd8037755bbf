package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/internal/user/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// InviteRepository persists driver invite codes.
type InviteRepository struct {
	db *database.DB
}

// NewInviteRepository creates a new invite repository
func NewInviteRepository(db *database.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

const inviteSelect = `
	SELECT id, code, company_id, branch_id, driver_id, role_id,
	       expires_at, used_at, used_by_mobile_user_id, created_by_id, created_at
	FROM driver_invite`

// Create inserts an invite. The partial unique index on (driver_id) WHERE
// used_at IS NULL turns a second active invite for the same driver into a
// conflict.
func (r *InviteRepository) Create(ctx context.Context, inv *domain.DriverInvite) error {
	query := `
		INSERT INTO driver_invite (id, code, company_id, branch_id, driver_id, role_id,
		                           expires_at, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	row := r.db.Ext(ctx).QueryRowxContext(ctx, query,
		inv.ID, inv.Code, inv.CompanyID, inv.BranchID, inv.DriverID, inv.RoleID,
		inv.ExpiresAt, inv.CreatedByID)
	if err := row.Scan(&inv.CreatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// List returns the company's invites, newest first.
func (r *InviteRepository) List(ctx context.Context, companyID string) ([]*domain.DriverInvite, error) {
	var invites []*domain.DriverInvite
	err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &invites,
		inviteSelect+` WHERE company_id = $1 ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, database.WrapError(err)
	}
	return invites, nil
}

// FindByCodeForUpdate loads an invite by code with a row lock, so two
// concurrent registrations with the same code serialize and the second one
// sees used_at set. Takes an explicit query target because redemption runs in
// the registration transaction, outside any request context.
func (r *InviteRepository) FindByCodeForUpdate(ctx context.Context, q sqlx.ExtContext, code string) (*domain.DriverInvite, error) {
	var inv domain.DriverInvite
	err := sqlx.GetContext(ctx, q, &inv, inviteSelect+` WHERE code = $1 FOR UPDATE`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.BadRequest("invalid invite code")
		}
		return nil, database.WrapError(err)
	}
	return &inv, nil
}

// MarkUsed stamps the invite as redeemed by the given mobile user.
func (r *InviteRepository) MarkUsed(ctx context.Context, q sqlx.ExtContext, inviteID, mobileUserID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE driver_invite SET used_at = now(), used_by_mobile_user_id = $2
		 WHERE id = $1 AND used_at IS NULL`,
		inviteID, mobileUserID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.BadRequest("invite code already used")
	}
	return nil
}

// Revoke deletes an unused invite so a fresh one can be issued for the
// driver.
func (r *InviteRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`DELETE FROM driver_invite WHERE id = $1 AND used_at IS NULL`, id)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("invite")
	}
	return nil
}
