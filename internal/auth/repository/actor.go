package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/permissions"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
	"github.com/dispatchd/dispatch-backend/pkg/reserved"
)

// ActorRecord is the authoritative actor row the pipeline and the login flow
// read. One shape serves both actor kinds; mobile-only columns stay zero for
// web users.
type ActorRecord struct {
	ID             string           `db:"id"`
	Username       string           `db:"username"`
	PasswordHash   string           `db:"password_hash"`
	CompanyID      string           `db:"company_id"`
	BranchID       string           `db:"branch_id"`
	DriverID       string           `db:"driver_id"`
	RoleName       string           `db:"role_name"`
	Authorizations pq.StringArray   `db:"authorizations"`
	Permissions    pq.StringArray   `db:"permissions"`
	IsSuperAdmin   bool             `db:"is_super_admin"`
	IsBlocked      bool             `db:"is_blocked"`
	ActorType      reqctx.ActorType `db:"-"`
}

// EffectivePermissions returns the permission set the guards evaluate: the
// role's authorizations for web actors, the user's own permission list for
// mobile actors.
func (a *ActorRecord) EffectivePermissions() []string {
	if a.ActorType == reqctx.ActorMobile {
		return permissions.Normalize([]string(a.Permissions))
	}
	return permissions.Normalize([]string(a.Authorizations))
}

// ActorRepository reads actor rows for authentication. Every method takes the
// query target explicitly because callers differ: the request pipeline hands
// in its own transaction, the login flow a superadmin-scoped one.
type ActorRepository struct {
	db *database.DB
}

// NewActorRepository creates a new actor repository
func NewActorRepository(db *database.DB) *ActorRepository {
	return &ActorRepository{db: db}
}

const webUserColumns = `
	u.id,
	u.username,
	u.password_hash,
	COALESCE(u.company_id::text, '') AS company_id,
	COALESCE(u.branch_id::text, '')  AS branch_id,
	''                                AS driver_id,
	COALESCE(r.name, '')              AS role_name,
	COALESCE(r.authorizations, '{}')  AS authorizations,
	'{}'::text[]                      AS permissions,
	u.is_super_admin,
	false                             AS is_blocked`

const mobileUserColumns = `
	m.id,
	m.username,
	m.password_hash,
	m.company_id::text                AS company_id,
	COALESCE(m.branch_id::text, '')   AS branch_id,
	COALESCE(m.driver_id::text, '')   AS driver_id,
	COALESCE(r.name, '')              AS role_name,
	COALESCE(r.authorizations, '{}')  AS authorizations,
	m.permissions,
	m.is_super_admin,
	m.is_blocked`

// FindWebUserByID loads a web user with its role joined in.
func (r *ActorRepository) FindWebUserByID(ctx context.Context, q sqlx.ExtContext, id string) (*ActorRecord, error) {
	query := `
		SELECT ` + webUserColumns + `
		FROM web_user u
		LEFT JOIN role r ON r.id = u.role_id AND r.deleted_at IS NULL
		WHERE u.id = $1 AND u.deleted_at IS NULL`

	var rec ActorRecord
	if err := sqlx.GetContext(ctx, q, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("user")
		}
		return nil, database.WrapError(err)
	}
	rec.ActorType = reqctx.ActorWeb
	return &rec, nil
}

// FindMobileUserByID loads a mobile user with its role joined in.
func (r *ActorRepository) FindMobileUserByID(ctx context.Context, q sqlx.ExtContext, id string) (*ActorRecord, error) {
	query := `
		SELECT ` + mobileUserColumns + `
		FROM mobile_user m
		LEFT JOIN role r ON r.id = m.role_id AND r.deleted_at IS NULL
		WHERE m.id = $1 AND m.deleted_at IS NULL`

	var rec ActorRecord
	if err := sqlx.GetContext(ctx, q, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("user")
		}
		return nil, database.WrapError(err)
	}
	rec.ActorType = reqctx.ActorMobile
	return &rec, nil
}

// FindByID dispatches on actor type.
func (r *ActorRepository) FindByID(ctx context.Context, q sqlx.ExtContext, actorType reqctx.ActorType, id string) (*ActorRecord, error) {
	if actorType == reqctx.ActorMobile {
		return r.FindMobileUserByID(ctx, q, id)
	}
	return r.FindWebUserByID(ctx, q, id)
}

// FindWebUserByUsername resolves a web login. Usernames are globally unique
// for web actors, so at most one row matches.
func (r *ActorRepository) FindWebUserByUsername(ctx context.Context, q sqlx.ExtContext, username string) (*ActorRecord, error) {
	query := `
		SELECT ` + webUserColumns + `
		FROM web_user u
		LEFT JOIN role r ON r.id = u.role_id AND r.deleted_at IS NULL
		WHERE lower(u.username) = $1 AND u.deleted_at IS NULL`

	var rec ActorRecord
	if err := sqlx.GetContext(ctx, q, &rec, query, reserved.Normalize(username)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.InvalidCredentials()
		}
		return nil, database.WrapError(err)
	}
	rec.ActorType = reqctx.ActorWeb
	return &rec, nil
}

// FindMobileUsersByUsername returns every mobile user carrying the username.
// Mobile usernames are unique per company, not globally, so a login without a
// company id can match several tenants; the service decides how to proceed.
func (r *ActorRepository) FindMobileUsersByUsername(ctx context.Context, q sqlx.ExtContext, username string) ([]*ActorRecord, error) {
	query := `
		SELECT ` + mobileUserColumns + `
		FROM mobile_user m
		LEFT JOIN role r ON r.id = m.role_id AND r.deleted_at IS NULL
		WHERE lower(m.username) = $1 AND m.deleted_at IS NULL
		ORDER BY m.created_at`

	var recs []*ActorRecord
	if err := sqlx.SelectContext(ctx, q, &recs, query, reserved.Normalize(username)); err != nil {
		return nil, database.WrapError(err)
	}
	for _, rec := range recs {
		rec.ActorType = reqctx.ActorMobile
	}
	return recs, nil
}

// FindMobileUserByUsernameAndCompany resolves a disambiguated mobile login.
func (r *ActorRepository) FindMobileUserByUsernameAndCompany(ctx context.Context, q sqlx.ExtContext, username, companyID string) (*ActorRecord, error) {
	query := `
		SELECT ` + mobileUserColumns + `
		FROM mobile_user m
		LEFT JOIN role r ON r.id = m.role_id AND r.deleted_at IS NULL
		WHERE lower(m.username) = $1 AND m.company_id = $2 AND m.deleted_at IS NULL`

	var rec ActorRecord
	if err := sqlx.GetContext(ctx, q, &rec, query, reserved.Normalize(username), companyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.InvalidCredentials()
		}
		return nil, database.WrapError(err)
	}
	rec.ActorType = reqctx.ActorMobile
	return &rec, nil
}
