// Package middleware implements the authenticated request pipeline and the
// permission guards layered on top of it.
package middleware

import (
	"net/http"

	"github.com/dispatchd/dispatch-backend/internal/auth/cookie"
	"github.com/dispatchd/dispatch-backend/internal/auth/jwt"
	"github.com/dispatchd/dispatch-backend/internal/auth/repository"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/httputil"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// Pipeline turns a verified token into a fully bound request: one pooled
// connection, one transaction under the restricted role, tenant session
// variables set from the authoritative user row, and a reqctx installed for
// everything downstream. The transaction commits only when the handler
// produced a success status; any 4xx/5xx or panic rolls it back.
type Pipeline struct {
	db      *database.DB
	tokens  *jwt.Manager
	actors  *repository.ActorRepository
	cookies *cookie.Writer
	logger  *logger.Logger
}

// NewPipeline creates the request pipeline middleware.
func NewPipeline(db *database.DB, tokens *jwt.Manager, actors *repository.ActorRepository, cookies *cookie.Writer, log *logger.Logger) *Pipeline {
	return &Pipeline{
		db:      db,
		tokens:  tokens,
		actors:  actors,
		cookies: cookies,
		logger:  log,
	}
}

// Handler is the middleware entrypoint. Requests without any token pass
// through anonymously; the guards decide whether that is acceptable for a
// given route.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := p.tokens.FromRequest(r)
		if err != nil {
			p.unauthorized(w, r, err)
			return
		}
		if claims == nil {
			next.ServeHTTP(w, r)
			return
		}

		p.serveAuthenticated(w, r, claims, next)
	})
}

func (p *Pipeline) serveAuthenticated(w http.ResponseWriter, r *http.Request, claims *jwt.Claims, next http.Handler) {
	ctx := r.Context()

	rtx, err := p.db.BeginRequestTx(ctx)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	// No-op after an explicit Commit/Rollback; on a panic this runs while the
	// stack unwinds toward the outer recoverer, so the transaction never
	// leaks back to the pool open.
	defer rtx.Rollback()

	if err := database.SetLocalRole(ctx, rtx.Tx); err != nil {
		p.logger.Error().Err(err).Msg("failed to set restricted role")
		httputil.Error(w, errors.Internal("request setup failed"))
		return
	}

	// Refresh phase. The token names the actor but is never trusted for
	// scope, so the authoritative row is read first, under the superadmin
	// bypass because the home tenant is not known yet.
	if err := database.SetTenantScope(ctx, rtx.Tx, true, ""); err != nil {
		p.logger.Error().Err(err).Msg("failed to set refresh scope")
		httputil.Error(w, errors.Internal("request setup failed"))
		return
	}

	actor, err := p.actors.FindByID(ctx, rtx.Tx, claims.ActorType, claims.UserID())
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// Deleted since the token was minted.
			p.unauthorized(w, r, errors.Unauthenticated("account no longer exists"))
			return
		}
		httputil.Error(w, err)
		return
	}

	if actor.IsBlocked {
		p.unauthorized(w, r, errors.Unauthenticated("account is blocked"))
		return
	}

	// Bind phase, from database values only.
	companyID := actor.CompanyID
	if actor.IsSuperAdmin {
		companyID = ""
	} else if companyID == "" {
		// A non-superadmin without a tenant can see nothing; refuse rather
		// than run the request with an empty scope.
		p.unauthorized(w, r, errors.Unauthenticated("account has no company"))
		return
	}

	if err := database.SetTenantScope(ctx, rtx.Tx, actor.IsSuperAdmin, companyID); err != nil {
		p.logger.Error().Err(err).Msg("failed to bind tenant scope")
		httputil.Error(w, errors.Internal("request setup failed"))
		return
	}

	rc := &reqctx.Context{
		UserID:       actor.ID,
		ActorType:    actor.ActorType,
		CompanyID:    companyID,
		BranchID:     actor.BranchID,
		DriverID:     actor.DriverID,
		IsSuperAdmin: actor.IsSuperAdmin,
		RoleName:     actor.RoleName,
		Permissions:  actor.EffectivePermissions(),
		Tx:           rtx.Tx,
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(rec, r.WithContext(reqctx.With(ctx, rc)))

	if rec.status >= 400 {
		if err := rtx.Rollback(); err != nil {
			p.logger.Error().Err(err).Msg("request rollback failed")
		}
		return
	}

	if err := rtx.Commit(); err != nil {
		// The success response is already on the wire; all that is left is
		// to make the loss visible.
		p.logger.Error().Err(err).
			Str("user_id", rc.UserID).
			Str("path", r.URL.Path).
			Msg("request commit failed after response was written")
	}
}

// unauthorized writes a 401 and, when the request authenticated via cookies,
// clears the pair so a browser holding a dead session recovers without user
// action.
func (p *Pipeline) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	if c, cerr := r.Cookie(jwt.AccessTokenCookie); cerr == nil && c.Value != "" {
		p.cookies.Clear(w)
	}
	if err == nil {
		err = errors.Unauthenticated("authentication required")
	}
	httputil.Error(w, err)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
