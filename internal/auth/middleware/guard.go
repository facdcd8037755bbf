package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/httputil"
	"github.com/dispatchd/dispatch-backend/pkg/permissions"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// RequireAuth rejects requests the pipeline left anonymous.
func RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reqctx.From(r.Context()) == nil {
				httputil.Error(w, errors.Unauthenticated("authentication required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermissions allows the request through when the actor holds every
// named permission. Superadmins bypass the check entirely.
func RequirePermissions(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := reqctx.From(r.Context())
			if rc == nil {
				httputil.Error(w, errors.Unauthenticated("authentication required"))
				return
			}
			if !rc.IsSuperAdmin && !permissions.HasAllPermissions(rc.Permissions, required) {
				httputil.Error(w, errors.Forbidden("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperAdmin restricts a route to superadmins.
func RequireSuperAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := reqctx.From(r.Context())
			if rc == nil {
				httputil.Error(w, errors.Unauthenticated("authentication required"))
				return
			}
			if !rc.IsSuperAdmin {
				httputil.Error(w, errors.Forbidden("superadmin only"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSelfOrPermissions lets a mobile actor operate on its own record via
// the id path parameter; anyone else needs the named permissions. Web actors
// never match the self rule because the managed records are mobile users.
func RequireSelfOrPermissions(idParam string, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := reqctx.From(r.Context())
			if rc == nil {
				httputil.Error(w, errors.Unauthenticated("authentication required"))
				return
			}

			if rc.ActorType == reqctx.ActorMobile && chi.URLParam(r, idParam) == rc.UserID {
				next.ServeHTTP(w, r)
				return
			}

			if !rc.IsSuperAdmin && !permissions.HasAllPermissions(rc.Permissions, required) {
				httputil.Error(w, errors.Forbidden("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
