package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/dispatchd/dispatch-backend/internal/auth/middleware"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

func serve(mw func(http.Handler) http.Handler, rc *reqctx.Context) int {
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if rc != nil {
		r = r.WithContext(reqctx.With(r.Context(), rc))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	return rec.Code
}

func TestRequireAuth(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, serve(middleware.RequireAuth(), nil))
	assert.Equal(t, http.StatusOK, serve(middleware.RequireAuth(), &reqctx.Context{UserID: "u1"}))
}

func TestRequirePermissions(t *testing.T) {
	tests := []struct {
		name     string
		rc       *reqctx.Context
		required []string
		want     int
	}{
		{"anonymous", nil, []string{"mission.read"}, http.StatusUnauthorized},
		{"holds the permission", &reqctx.Context{Permissions: []string{"mission.read"}}, []string{"mission.read"}, http.StatusOK},
		{"missing one of several", &reqctx.Context{Permissions: []string{"mission.read"}}, []string{"mission.read", "mission.create"}, http.StatusForbidden},
		{"superadmin bypasses", &reqctx.Context{IsSuperAdmin: true}, []string{"mission.create"}, http.StatusOK},
		{"no requirement", &reqctx.Context{}, nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(middleware.RequirePermissions(tt.required...), tt.rc))
		})
	}
}

func TestRequireSuperAdmin(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, serve(middleware.RequireSuperAdmin(), nil))
	assert.Equal(t, http.StatusForbidden, serve(middleware.RequireSuperAdmin(), &reqctx.Context{UserID: "u1"}))
	assert.Equal(t, http.StatusOK, serve(middleware.RequireSuperAdmin(), &reqctx.Context{IsSuperAdmin: true}))
}

func TestRequireSelfOrPermissions(t *testing.T) {
	serveWithParam := func(rc *reqctx.Context, path string) int {
		router := chi.NewRouter()
		router.With(middleware.RequireSelfOrPermissions("mobileUserID", "mobileUser.update")).
			Get("/mobile-users/{mobileUserID}", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

		r := httptest.NewRequest(http.MethodGet, path, nil)
		if rc != nil {
			r = r.WithContext(reqctx.With(r.Context(), rc))
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec.Code
	}

	t.Run("mobile actor on its own record", func(t *testing.T) {
		rc := &reqctx.Context{UserID: "m1", ActorType: reqctx.ActorMobile}
		assert.Equal(t, http.StatusOK, serveWithParam(rc, "/mobile-users/m1"))
	})

	t.Run("mobile actor on another record needs the permission", func(t *testing.T) {
		rc := &reqctx.Context{UserID: "m1", ActorType: reqctx.ActorMobile}
		assert.Equal(t, http.StatusForbidden, serveWithParam(rc, "/mobile-users/m2"))
	})

	t.Run("web actor never matches the self rule", func(t *testing.T) {
		rc := &reqctx.Context{UserID: "w1", ActorType: reqctx.ActorWeb}
		assert.Equal(t, http.StatusForbidden, serveWithParam(rc, "/mobile-users/w1"))
	})

	t.Run("web actor with the permission", func(t *testing.T) {
		rc := &reqctx.Context{UserID: "w1", ActorType: reqctx.ActorWeb, Permissions: []string{"mobileUser.update"}}
		assert.Equal(t, http.StatusOK, serveWithParam(rc, "/mobile-users/m2"))
	})

	t.Run("anonymous", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serveWithParam(nil, "/mobile-users/m1"))
	})
}
