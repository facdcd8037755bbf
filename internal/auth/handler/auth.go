// Package handler exposes the authentication endpoints.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchd/dispatch-backend/internal/auth/cookie"
	"github.com/dispatchd/dispatch-backend/internal/auth/middleware"
	"github.com/dispatchd/dispatch-backend/internal/auth/repository"
	"github.com/dispatchd/dispatch-backend/internal/auth/service"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/httputil"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// Handler serves the auth endpoints.
type Handler struct {
	auth     *service.AuthService
	register *service.RegisterService
	cookies  *cookie.Writer
}

// NewHandler creates the auth handler.
func NewHandler(auth *service.AuthService, register *service.RegisterService, cookies *cookie.Writer) *Handler {
	return &Handler{auth: auth, register: register, cookies: cookies}
}

// Routes mounts the auth endpoints. The rate limiter wraps the credential
// endpoints only.
func (h *Handler) Routes(r chi.Router, rateLimit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(rateLimit)
		r.Post("/auth/login", h.Login)
		r.Post("/auth/mobile/login", h.MobileLogin)
		r.Post("/auth/mobile/register", h.Register)
		r.Post("/auth/refresh", h.Refresh)
	})
	r.Post("/auth/logout", h.Logout)
	r.With(middleware.RequireAuth()).Post("/auth/logout-all", h.LogoutAll)
}

type authResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         userView  `json:"user"`
}

type userView struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	ActorType    string   `json:"actorType"`
	CompanyID    string   `json:"companyId,omitempty"`
	BranchID     string   `json:"branchId,omitempty"`
	DriverID     string   `json:"driverId,omitempty"`
	RoleName     string   `json:"roleName,omitempty"`
	Permissions  []string `json:"permissions"`
	IsSuperAdmin bool     `json:"isSuperAdmin"`
}

func viewOf(actor *repository.ActorRecord) userView {
	return userView{
		ID:           actor.ID,
		Username:     actor.Username,
		ActorType:    string(actor.ActorType),
		CompanyID:    actor.CompanyID,
		BranchID:     actor.BranchID,
		DriverID:     actor.DriverID,
		RoleName:     actor.RoleName,
		Permissions:  actor.EffectivePermissions(),
		IsSuperAdmin: actor.IsSuperAdmin,
	}
}

// Login authenticates a web user and sets the auth cookie pair.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, reqctx.ActorWeb)
}

// MobileLogin authenticates a mobile user. Mobile clients keep the tokens
// themselves, but the cookies are set anyway for clients that want them.
func (h *Handler) MobileLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, reqctx.ActorMobile)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, actorType reqctx.ActorType) {
	var in service.LoginInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}
	in.ActorType = actorType

	pair, err := h.auth.Login(r.Context(), &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	h.setCookies(w, pair)
	httputil.JSON(w, http.StatusOK, authResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExpiry,
		User:         viewOf(pair.Actor),
	})
}

// Register redeems a driver invite code into a new mobile account and logs it
// straight in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	pair, err := h.register.Register(r.Context(), &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	h.setCookies(w, pair)
	httputil.Created(w, authResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExpiry,
		User:         viewOf(pair.Actor),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh rotates the refresh token. Web clients carry it in the cookie,
// mobile clients in the body; the cookie wins when both are present.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := h.refreshTokenFrom(r)
	if raw == "" {
		httputil.Error(w, errors.Unauthenticated("refresh token required"))
		return
	}

	pair, err := h.auth.Refresh(r.Context(), raw)
	if err != nil {
		h.cookies.Clear(w)
		httputil.Error(w, err)
		return
	}

	h.setCookies(w, pair)
	httputil.JSON(w, http.StatusOK, authResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExpiry,
		User:         viewOf(pair.Actor),
	})
}

// Logout revokes the presented refresh token and clears the cookies. Always
// succeeds; there is nothing useful to report about a dead session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if raw := h.refreshTokenFrom(r); raw != "" {
		_ = h.auth.Logout(r.Context(), raw)
	}
	h.cookies.Clear(w)
	httputil.NoContent(w)
}

// LogoutAll revokes every live refresh token of the current actor.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.LogoutAll(r.Context()); err != nil {
		httputil.Error(w, err)
		return
	}
	h.cookies.Clear(w)
	httputil.NoContent(w)
}

func (h *Handler) refreshTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(cookie.RefreshTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	var body refreshRequest
	if err := httputil.DecodeJSON(r, &body); err == nil {
		return body.RefreshToken
	}
	return ""
}

func (h *Handler) setCookies(w http.ResponseWriter, pair *service.TokenPair) {
	h.cookies.SetAccess(w, pair.AccessToken, time.Until(pair.AccessExpiry))
	h.cookies.SetRefresh(w, pair.RefreshToken, time.Until(pair.RefreshExpiry))
}
