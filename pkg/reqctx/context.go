// Package reqctx carries the per-request tenant context: the resolved actor,
// its effective company/branch scope and the transaction-bound database
// handle. It is installed by the auth pipeline after the refresh phase, so
// every field reflects the authoritative database row, never the raw token.
package reqctx

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/reserved"
)

// ActorType distinguishes browser actors from mobile-app actors.
type ActorType string

const (
	ActorWeb    ActorType = "web"
	ActorMobile ActorType = "mobile"
)

// Context is the ambient request state. Empty strings mean "absent".
type Context struct {
	UserID       string
	ActorType    ActorType
	CompanyID    string // empty for superadmins
	BranchID     string
	DriverID     string
	IsSuperAdmin bool
	RoleName     string
	Permissions  []string

	// Tx is the request transaction. Nil on the no-transaction path
	// (anonymous requests) and in snapshots.
	Tx *sqlx.Tx
}

type contextKey struct{}

// With installs the request context.
func With(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// From returns the innermost installed context, or nil.
func From(ctx context.Context) *Context {
	rc, _ := ctx.Value(contextKey{}).(*Context)
	return rc
}

// Tx returns the request transaction if one is installed.
func Tx(ctx context.Context) *sqlx.Tx {
	if rc := From(ctx); rc != nil {
		return rc.Tx
	}
	return nil
}

// RequireCompanyID returns the effective company scope, failing with
// UNAUTHENTICATED when no tenant is bound to the request.
func RequireCompanyID(ctx context.Context) (string, error) {
	rc := From(ctx)
	if rc == nil || rc.CompanyID == "" {
		return "", errors.Unauthenticated("no company scope on request")
	}
	return rc.CompanyID, nil
}

// EffectiveBranchID applies the branch narrowing rule on top of company-level
// row isolation: superadmins and company admins may select any branch via the
// query parameter; everyone else is pinned to their own branch regardless of
// what the query asks for.
func (rc *Context) EffectiveBranchID(queryBranchID string) string {
	if rc == nil {
		return ""
	}
	if rc.IsSuperAdmin || reserved.IsCompanyAdminRole(rc.RoleName) {
		return queryBranchID
	}
	return rc.BranchID
}

// Snapshot is the serializable form of a Context, used to carry tenant scope
// across queue boundaries. It never contains the transaction handle.
type Snapshot struct {
	UserID       string    `json:"user_id,omitempty"`
	ActorType    ActorType `json:"actor_type,omitempty"`
	CompanyID    string    `json:"company_id,omitempty"`
	BranchID     string    `json:"branch_id,omitempty"`
	DriverID     string    `json:"driver_id,omitempty"`
	IsSuperAdmin bool      `json:"is_superadmin,omitempty"`
	RoleName     string    `json:"role_name,omitempty"`
	Permissions  []string  `json:"permissions,omitempty"`
}

// Snapshot returns the serializable form of the context.
func (rc *Context) Snapshot() *Snapshot {
	if rc == nil {
		return nil
	}
	return &Snapshot{
		UserID:       rc.UserID,
		ActorType:    rc.ActorType,
		CompanyID:    rc.CompanyID,
		BranchID:     rc.BranchID,
		DriverID:     rc.DriverID,
		IsSuperAdmin: rc.IsSuperAdmin,
		RoleName:     rc.RoleName,
		Permissions:  rc.Permissions,
	}
}

// Restore converts a snapshot back into an installable context. The caller
// binds the transaction separately.
func (s *Snapshot) Restore() *Context {
	if s == nil {
		return nil
	}
	return &Context{
		UserID:       s.UserID,
		ActorType:    s.ActorType,
		CompanyID:    s.CompanyID,
		BranchID:     s.BranchID,
		DriverID:     s.DriverID,
		IsSuperAdmin: s.IsSuperAdmin,
		RoleName:     s.RoleName,
		Permissions:  s.Permissions,
	}
}
