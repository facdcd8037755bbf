package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/internal/company/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// BranchRepository persists branches. Every query filters company_id
// explicitly on top of the row policy.
type BranchRepository struct {
	db *database.DB
}

// NewBranchRepository creates a new branch repository
func NewBranchRepository(db *database.DB) *BranchRepository {
	return &BranchRepository{db: db}
}

const branchSelect = `
	SELECT id, name, company_id, created_at, updated_at, deleted_at
	FROM branch`

// Create inserts a branch. Takes an explicit query target so company
// registration can create the main branch in its own transaction.
func (r *BranchRepository) Create(ctx context.Context, q sqlx.ExtContext, b *domain.Branch) error {
	row := q.QueryRowxContext(ctx,
		`INSERT INTO branch (id, name, company_id) VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		b.ID, b.Name, b.CompanyID)
	if err := row.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// GetByID loads one branch within the company.
func (r *BranchRepository) GetByID(ctx context.Context, companyID, id string) (*domain.Branch, error) {
	var b domain.Branch
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &b,
		branchSelect+` WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("branch")
		}
		return nil, database.WrapError(err)
	}
	return &b, nil
}

// List returns the company's branches.
func (r *BranchRepository) List(ctx context.Context, companyID string) ([]*domain.Branch, error) {
	var branches []*domain.Branch
	err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &branches,
		branchSelect+` WHERE company_id = $1 AND deleted_at IS NULL ORDER BY created_at`, companyID)
	if err != nil {
		return nil, database.WrapError(err)
	}
	return branches, nil
}

// Rename updates a branch name.
func (r *BranchRepository) Rename(ctx context.Context, companyID, id, name string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE branch SET name = $3, updated_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		id, companyID, name)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("branch")
	}
	return nil
}

// Delete soft-deletes a branch. The main-branch protection lives in the
// service.
func (r *BranchRepository) Delete(ctx context.Context, companyID, id string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE branch SET deleted_at = now()
		 WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		id, companyID)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("branch")
	}
	return nil
}
