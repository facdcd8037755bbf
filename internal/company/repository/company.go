package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/internal/company/domain"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// CompanyRepository persists tenants.
type CompanyRepository struct {
	db *database.DB
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *database.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// Create inserts a company. Takes an explicit query target because company
// registration runs outside any request context.
func (r *CompanyRepository) Create(ctx context.Context, q sqlx.ExtContext, c *domain.Company) error {
	row := q.QueryRowxContext(ctx,
		`INSERT INTO company (id, name) VALUES ($1, $2) RETURNING created_at, updated_at`,
		c.ID, c.Name)
	if err := row.Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// GetByID loads one company. The row policy keys on the company's own id, so
// a tenant only ever sees itself here.
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*domain.Company, error) {
	var c domain.Company
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &c,
		`SELECT id, name, created_at, updated_at FROM company WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("company")
		}
		return nil, database.WrapError(err)
	}
	return &c, nil
}

// List returns every company. Only meaningful under the superadmin bypass;
// for anyone else the policy reduces it to their own row.
func (r *CompanyRepository) List(ctx context.Context) ([]*domain.Company, error) {
	var companies []*domain.Company
	err := sqlx.SelectContext(ctx, r.db.Ext(ctx), &companies,
		`SELECT id, name, created_at, updated_at FROM company ORDER BY created_at DESC`)
	if err != nil {
		return nil, database.WrapError(err)
	}
	return companies, nil
}

// UpdateName renames a company.
func (r *CompanyRepository) UpdateName(ctx context.Context, id, name string) error {
	res, err := r.db.Ext(ctx).ExecContext(ctx,
		`UPDATE company SET name = $2, updated_at = now() WHERE id = $1`, id, name)
	if err != nil {
		return database.WrapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("company")
	}
	return nil
}
