package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RLSRole is the non-privileged database role every tenant transaction runs
// under. It has no BYPASSRLS, so the row policies bind it even though the
// pool's login role owns the tables.
const RLSRole = "app_rls"

// Session variables the row policies read.
const (
	sessionSuperAdmin = "app.is_superadmin"
	sessionCompanyID  = "app.current_company_id"
)

// EnsureRLSRole idempotently creates the restricted role and grants it data
// access on all current and future tables. Runs at startup on the admin
// connection; a connecting role that cannot grant fails loud here rather than
// with mysterious empty results later.
func (db *DB) EnsureRLSRole(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE ROLE %s NOINHERIT NOLOGIN", RLSRole)); err != nil {
		if pqErr, ok := err.(*pq.Error); !ok || pqErr.Code != "42710" {
			// 42710 duplicate_object: the role already exists
			return fmt.Errorf("failed to create role %s: %w", RLSRole, err)
		}
	}

	grants := []string{
		fmt.Sprintf("GRANT USAGE ON SCHEMA public TO %s", RLSRole),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO %s", RLSRole),
		fmt.Sprintf("GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO %s", RLSRole),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT SELECT, INSERT, UPDATE, DELETE ON TABLES TO %s", RLSRole),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT USAGE, SELECT ON SEQUENCES TO %s", RLSRole),
	}

	for _, grant := range grants {
		if _, err := db.ExecContext(ctx, grant); err != nil {
			return fmt.Errorf("failed to grant privileges to %s: %w", RLSRole, err)
		}
	}

	db.logger.Info().Str("role", RLSRole).Msg("RLS role ensured")
	return nil
}

// SetLocalRole switches the transaction to the restricted role. SET LOCAL
// scopes to the transaction, so the connection returns to the pool with its
// original role no matter how the request ends.
func SetLocalRole(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL ROLE %s", RLSRole)); err != nil {
		return fmt.Errorf("failed to set local role: %w", err)
	}
	return nil
}

// SetTenantScope binds the transaction-local session variables the row
// policies evaluate. An empty companyID with isSuperAdmin=true is the
// superadmin bypass; anything else scopes every statement to one tenant.
// set_config(..., true) is transaction-local, so pooled connections cannot
// leak scope across requests.
func SetTenantScope(ctx context.Context, tx *sqlx.Tx, isSuperAdmin bool, companyID string) error {
	flag := "false"
	if isSuperAdmin {
		flag = "true"
	}
	if _, err := tx.ExecContext(ctx, "SELECT set_config($1, $2, true)", sessionSuperAdmin, flag); err != nil {
		return fmt.Errorf("failed to set %s: %w", sessionSuperAdmin, err)
	}
	if _, err := tx.ExecContext(ctx, "SELECT set_config($1, $2, true)", sessionCompanyID, companyID); err != nil {
		return fmt.Errorf("failed to set %s: %w", sessionCompanyID, err)
	}
	return nil
}

// TenantPolicy returns the CREATE POLICY statement applied to a tenant table.
// Kept next to the session-variable names so the policy text and the code
// that drives it cannot drift apart. The migrations use the same text.
func TenantPolicy(table, companyColumn string) string {
	return strings.Join([]string{
		fmt.Sprintf("CREATE POLICY tenant_isolation ON %s", table),
		fmt.Sprintf("USING (COALESCE(current_setting('%s', true), 'false') = 'true'", sessionSuperAdmin),
		fmt.Sprintf("  OR %s = NULLIF(current_setting('%s', true), '')::uuid)", companyColumn, sessionCompanyID),
		fmt.Sprintf("WITH CHECK (COALESCE(current_setting('%s', true), 'false') = 'true'", sessionSuperAdmin),
		fmt.Sprintf("  OR %s = NULLIF(current_setting('%s', true), '')::uuid)", companyColumn, sessionCompanyID),
	}, "\n")
}
