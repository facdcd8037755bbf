// Package cookie writes and clears the auth cookie pair shared by the auth
// handlers and the request pipeline.
package cookie

import (
	"net/http"
	"strings"
	"time"

	"github.com/dispatchd/dispatch-backend/internal/auth/jwt"
	"github.com/dispatchd/dispatch-backend/pkg/config"
)

// RefreshTokenCookie is the cookie carrying the opaque refresh token.
const RefreshTokenCookie = "refresh_token"

// Writer stamps the auth cookies with the configured domain, SameSite mode
// and Secure flag.
type Writer struct {
	domain   string
	sameSite http.SameSite
	secure   bool
}

// NewWriter creates a cookie writer. Secure is forced on in production.
func NewWriter(cfg *config.CookieConfig, production bool) *Writer {
	return &Writer{
		domain:   cfg.Domain,
		sameSite: parseSameSite(cfg.SameSite),
		secure:   production,
	}
}

func parseSameSite(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// SetAccess sets the access token cookie.
func (w *Writer) SetAccess(rw http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(rw, w.cookie(jwt.AccessTokenCookie, token, maxAge))
}

// SetRefresh sets the refresh token cookie.
func (w *Writer) SetRefresh(rw http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(rw, w.cookie(RefreshTokenCookie, token, maxAge))
}

// Clear expires both auth cookies. Used by logout and by any 401 on the web
// surface so a browser stuck with a dead token pair recovers on its own.
func (w *Writer) Clear(rw http.ResponseWriter) {
	http.SetCookie(rw, w.cookie(jwt.AccessTokenCookie, "", -1))
	http.SetCookie(rw, w.cookie(RefreshTokenCookie, "", -1))
}

func (w *Writer) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   w.domain,
		HttpOnly: true,
		Secure:   w.secure,
		SameSite: w.sameSite,
	}
	if maxAge < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(maxAge / time.Second)
	}
	return c
}
