// Package handler exposes the company, branch, role and balance endpoints.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchd/dispatch-backend/internal/auth/middleware"
	"github.com/dispatchd/dispatch-backend/internal/company/service"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/httputil"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// Handler serves the company module endpoints.
type Handler struct {
	registration *service.RegistrationService
	tenants      *service.TenantService
	balances     *service.BalanceService
}

// NewHandler creates the company handler.
func NewHandler(registration *service.RegistrationService, tenants *service.TenantService, balances *service.BalanceService) *Handler {
	return &Handler{registration: registration, tenants: tenants, balances: balances}
}

// Routes mounts the company endpoints. Registration is public; everything
// else runs behind the pipeline and the permission guards.
func (h *Handler) Routes(r chi.Router, rateLimit func(http.Handler) http.Handler) {
	r.With(rateLimit).Post("/companies/register", h.RegisterCompany)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth())

		r.With(middleware.RequireSuperAdmin()).Get("/companies", h.ListCompanies)
		r.Get("/company", h.GetCompany)

		r.With(middleware.RequirePermissions("branch.read")).Get("/branches", h.ListBranches)
		r.With(middleware.RequirePermissions("branch.create")).Post("/branches", h.CreateBranch)
		r.With(middleware.RequirePermissions("branch.update")).Put("/branches/{branchID}", h.RenameBranch)
		r.With(middleware.RequirePermissions("branch.delete")).Delete("/branches/{branchID}", h.DeleteBranch)

		r.With(middleware.RequirePermissions("role.read")).Get("/roles", h.ListRoles)
		r.With(middleware.RequirePermissions("role.create")).Post("/roles", h.CreateRole)
		r.With(middleware.RequirePermissions("role.update")).Put("/roles/{roleID}", h.UpdateRole)
		r.With(middleware.RequirePermissions("role.delete")).Delete("/roles/{roleID}", h.DeleteRole)

		r.With(middleware.RequirePermissions("balance.read")).Get("/balance", h.GetBalance)
		r.With(middleware.RequirePermissions("balance.read")).Get("/balance/purchases", h.ListPurchases)
		r.With(middleware.RequireSuperAdmin()).Post("/companies/{companyID}/balance/purchase", h.Purchase)
	})
}

// companyScope resolves the tenant a request operates on: superadmins name it
// via path or query parameter, everyone else is pinned to their own.
func companyScope(r *http.Request) (string, error) {
	rc := reqctx.From(r.Context())
	if rc == nil {
		return "", errors.Unauthenticated("authentication required")
	}
	if rc.IsSuperAdmin {
		if id := chi.URLParam(r, "companyID"); id != "" {
			return id, nil
		}
		if id := r.URL.Query().Get("companyId"); id != "" {
			return id, nil
		}
		return "", errors.BadRequest("companyId is required")
	}
	return reqctx.RequireCompanyID(r.Context())
}

// RegisterCompany creates a new tenant with its admin account.
func (h *Handler) RegisterCompany(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterCompanyInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.registration.RegisterCompany(r.Context(), &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, result)
}

// ListCompanies returns every tenant. Superadmin only.
func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.tenants.ListCompanies(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, companies)
}

// GetCompany returns the caller's company.
func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	company, err := h.tenants.GetCompany(r.Context(), companyID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, company)
}

// CreateBranch adds a branch to the caller's company.
func (h *Handler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.BranchInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	branch, err := h.tenants.CreateBranch(r.Context(), companyID, &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, branch)
}

// ListBranches returns the caller's branches.
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	branches, err := h.tenants.ListBranches(r.Context(), companyID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, branches)
}

// RenameBranch renames a branch.
func (h *Handler) RenameBranch(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.BranchInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	branch, err := h.tenants.RenameBranch(r.Context(), companyID, chi.URLParam(r, "branchID"), &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, branch)
}

// DeleteBranch soft-deletes a branch.
func (h *Handler) DeleteBranch(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.tenants.DeleteBranch(r.Context(), companyID, chi.URLParam(r, "branchID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// CreateRole adds a role.
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.RoleInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	role, err := h.tenants.CreateRole(r.Context(), companyID, &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, role)
}

// ListRoles returns the caller's roles.
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	roles, err := h.tenants.ListRoles(r.Context(), companyID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, roles)
}

// UpdateRole replaces a role's definition.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.RoleInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	role, err := h.tenants.UpdateRole(r.Context(), companyID, chi.URLParam(r, "roleID"), &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, role)
}

// DeleteRole soft-deletes a role.
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.tenants.DeleteRole(r.Context(), companyID, chi.URLParam(r, "roleID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// GetBalance returns the caller's balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	balance, err := h.balances.Get(r.Context(), companyID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, balance)
}

// ListPurchases returns the caller's balance audit trail.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	purchases, err := h.balances.Purchases(r.Context(), companyID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, purchases)
}

// Purchase applies a balance top-up or plan switch for a company. Superadmin
// only.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var in service.PurchaseInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	balance, err := h.balances.Purchase(r.Context(), chi.URLParam(r, "companyID"), &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, balance)
}
