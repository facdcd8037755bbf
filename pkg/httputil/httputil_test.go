package httputil_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/httputil"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.JSON(rec, http.StatusOK, map[string]string{"id": "1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}

func TestJSONWithMeta(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.JSONWithMeta(rec, http.StatusOK, []string{"a"}, &httputil.Meta{Page: 2, PerPage: 10, Total: 35, TotalPages: 4})

	resp := decode(t, rec)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 2, resp.Meta.Page)
	assert.Equal(t, int64(35), resp.Meta.Total)
}

func TestError(t *testing.T) {
	t.Run("app error keeps its code and status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		httputil.Error(rec, errors.NotFound("mission"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		resp := decode(t, rec)
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "NOT_FOUND", resp.Error.Code)
		assert.Equal(t, "mission not found", resp.Error.Message)
	})

	t.Run("error code field is errorCode on the wire", func(t *testing.T) {
		rec := httptest.NewRecorder()
		httputil.Error(rec, errors.BadRequest("bad"))

		assert.Contains(t, rec.Body.String(), `"errorCode":"BAD_REQUEST"`)
	})

	t.Run("details travel with the error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		httputil.Error(rec, errors.BalanceExceeded("per_missions"))

		assert.Equal(t, http.StatusConflict, rec.Code)
		resp := decode(t, rec)
		assert.Equal(t, "BALANCE_EXCEEDED", resp.Error.Code)
		assert.Equal(t, "per_missions", resp.Error.Details["balanceType"])
	})

	t.Run("unknown errors are masked as internal", func(t *testing.T) {
		rec := httptest.NewRecorder()
		httputil.Error(rec, assert.AnError)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decode(t, rec)
		assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
		assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
	})
}

func TestNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.NoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestCreated(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.Created(rec, map[string]string{"id": "1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decode(t, rec).Success)
}

func TestDecodeJSON(t *testing.T) {
	type in struct {
		Name string `json:"name"`
	}

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
		var v in
		require.NoError(t, httputil.DecodeJSON(r, &v))
		assert.Equal(t, "x", v.Name)
	})

	t.Run("malformed body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		var v in
		err := httputil.DecodeJSON(r, &v)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
	})
}

func TestValidate(t *testing.T) {
	type in struct {
		Name  string `validate:"required,min=3"`
		Email string `validate:"omitempty,email"`
	}

	t.Run("valid struct", func(t *testing.T) {
		assert.NoError(t, httputil.Validate(&in{Name: "abc"}))
	})

	t.Run("failures map to field details", func(t *testing.T) {
		err := httputil.Validate(&in{Email: "nope"})

		var appErr *errors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
		assert.Equal(t, "this field is required", appErr.Details["Name"])
		assert.Equal(t, "must be a valid email address", appErr.Details["Email"])
	})
}

func TestRateLimit(t *testing.T) {
	limited := httputil.RateLimit(1, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, r)
		return rec.Code
	}

	t.Run("burst then throttle per IP", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do("10.0.0.1:1234"))
		assert.Equal(t, http.StatusOK, do("10.0.0.1:1234"))
		assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1234"))
	})

	t.Run("other clients unaffected", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do("10.0.0.2:1234"))
	})
}
