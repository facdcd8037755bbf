// Package handler exposes the account management endpoints: web users,
// mobile users and driver invites.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchd/dispatch-backend/internal/auth/middleware"
	"github.com/dispatchd/dispatch-backend/internal/user/service"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/httputil"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// Handler serves the user module endpoints.
type Handler struct {
	webUsers    *service.WebUserService
	mobileUsers *service.MobileUserService
	invites     *service.InviteService
}

// NewHandler creates the user handler.
func NewHandler(webUsers *service.WebUserService, mobileUsers *service.MobileUserService, invites *service.InviteService) *Handler {
	return &Handler{webUsers: webUsers, mobileUsers: mobileUsers, invites: invites}
}

// Routes mounts the user endpoints behind the permission guards. Mobile
// actors reach their own record through the self rule without holding the
// admin permissions.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth())

		r.With(middleware.RequirePermissions("user.read")).Get("/users", h.ListWebUsers)
		r.With(middleware.RequirePermissions("user.read")).Get("/users/{userID}", h.GetWebUser)
		r.With(middleware.RequirePermissions("user.create")).Post("/users", h.CreateWebUser)
		r.With(middleware.RequirePermissions("user.update")).Put("/users/{userID}", h.UpdateWebUser)
		r.With(middleware.RequirePermissions("user.delete")).Delete("/users/{userID}", h.DeleteWebUser)
		r.Put("/users/me/password", h.ChangePassword)

		r.With(middleware.RequirePermissions("mobileUser.read")).Get("/mobile-users", h.ListMobileUsers)
		r.With(middleware.RequireSelfOrPermissions("mobileUserID", "mobileUser.read")).
			Get("/mobile-users/{mobileUserID}", h.GetMobileUser)
		r.With(middleware.RequireSelfOrPermissions("mobileUserID", "mobileUser.update")).
			Put("/mobile-users/{mobileUserID}", h.UpdateMobileUser)
		r.With(middleware.RequirePermissions("mobileUser.block")).
			Post("/mobile-users/{mobileUserID}/block", h.BlockMobileUser)
		r.With(middleware.RequirePermissions("mobileUser.block")).
			Post("/mobile-users/{mobileUserID}/unblock", h.UnblockMobileUser)
		r.With(middleware.RequirePermissions("mobileUser.update")).
			Delete("/mobile-users/{mobileUserID}", h.DeleteMobileUser)

		r.With(middleware.RequirePermissions("mobileUser.invite")).Get("/invites", h.ListInvites)
		r.With(middleware.RequirePermissions("mobileUser.invite")).Post("/invites", h.CreateInvite)
		r.With(middleware.RequirePermissions("mobileUser.invite")).Delete("/invites/{inviteID}", h.RevokeInvite)
	})
}

func companyScope(r *http.Request) (string, error) {
	rc := reqctx.From(r.Context())
	if rc == nil {
		return "", errors.Unauthenticated("authentication required")
	}
	if rc.IsSuperAdmin {
		if id := r.URL.Query().Get("companyId"); id != "" {
			return id, nil
		}
		return "", errors.BadRequest("companyId is required")
	}
	return reqctx.RequireCompanyID(r.Context())
}

// CreateWebUser adds a back-office account.
func (h *Handler) CreateWebUser(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.CreateWebUserInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	user, err := h.webUsers.Create(r.Context(), companyID, &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, user)
}

// GetWebUser returns one back-office account.
func (h *Handler) GetWebUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.webUsers.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, user)
}

// ListWebUsers returns the company's back-office accounts.
func (h *Handler) ListWebUsers(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	users, err := h.webUsers.List(r.Context(), companyID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, users)
}

// UpdateWebUser applies the editable fields.
func (h *Handler) UpdateWebUser(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.UpdateWebUserInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	user, err := h.webUsers.Update(r.Context(), companyID, chi.URLParam(r, "userID"), &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, user)
}

// ChangePassword lets any authenticated web actor rotate their own password.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	rc := reqctx.From(r.Context())
	if rc.ActorType != reqctx.ActorWeb {
		httputil.Error(w, errors.Forbidden("web accounts only"))
		return
	}

	var in service.ChangePasswordInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.webUsers.ChangePassword(r.Context(), rc.UserID, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// DeleteWebUser soft-deletes a back-office account.
func (h *Handler) DeleteWebUser(w http.ResponseWriter, r *http.Request) {
	rc := reqctx.From(r.Context())
	if err := h.webUsers.Delete(r.Context(), rc.UserID, chi.URLParam(r, "userID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// ListMobileUsers returns the company's mobile users within the caller's
// branch scope.
func (h *Handler) ListMobileUsers(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	branchID := reqctx.From(r.Context()).EffectiveBranchID(r.URL.Query().Get("branchId"))

	users, err := h.mobileUsers.List(r.Context(), companyID, branchID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, users)
}

// GetMobileUser returns one mobile user. Drivers may fetch their own record.
func (h *Handler) GetMobileUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.mobileUsers.Get(r.Context(), chi.URLParam(r, "mobileUserID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, user)
}

// UpdateMobileUser applies edits to a mobile user. A driver editing their own
// record is limited to the profile fields; admins edit everything.
func (h *Handler) UpdateMobileUser(w http.ResponseWriter, r *http.Request) {
	rc := reqctx.From(r.Context())
	id := chi.URLParam(r, "mobileUserID")

	if rc.ActorType == reqctx.ActorMobile && rc.UserID == id {
		var in service.ProfileInput
		if err := httputil.DecodeJSON(r, &in); err != nil {
			httputil.Error(w, err)
			return
		}
		if err := httputil.Validate(&in); err != nil {
			httputil.Error(w, err)
			return
		}
		user, err := h.mobileUsers.UpdateProfile(r.Context(), id, &in)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, user)
		return
	}

	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.UpdateMobileUserInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	user, err := h.mobileUsers.Update(r.Context(), companyID, id, &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, user)
}

// BlockMobileUser blocks a mobile user.
func (h *Handler) BlockMobileUser(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

// UnblockMobileUser unblocks a mobile user.
func (h *Handler) UnblockMobileUser(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *Handler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	user, err := h.mobileUsers.SetBlocked(r.Context(), chi.URLParam(r, "mobileUserID"), blocked)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, user)
}

// DeleteMobileUser soft-deletes a mobile user.
func (h *Handler) DeleteMobileUser(w http.ResponseWriter, r *http.Request) {
	if err := h.mobileUsers.Delete(r.Context(), chi.URLParam(r, "mobileUserID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// CreateInvite issues a registration code for a driver.
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.CreateInviteInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	invite, err := h.invites.Create(r.Context(), companyID, &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, invite)
}

// ListInvites returns the company's invites.
func (h *Handler) ListInvites(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	invites, err := h.invites.List(r.Context(), companyID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, invites)
}

// RevokeInvite deletes an unused invite.
func (h *Handler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	if err := h.invites.Revoke(r.Context(), chi.URLParam(r, "inviteID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}
