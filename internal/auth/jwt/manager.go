package jwt

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dispatchd/dispatch-backend/pkg/config"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/permissions"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// AccessTokenCookie is the cookie the extractor checks before the
// Authorization header.
const AccessTokenCookie = "access_token"

// AuthorizationList tolerates both wire shapes of role authorizations: a
// comma-joined string and a JSON array. Either way it decodes to the
// canonical trimmed, ordered sequence.
type AuthorizationList []string

// UnmarshalJSON implements the dual-shape decoding.
func (a *AuthorizationList) UnmarshalJSON(data []byte) error {
	var asSlice []string
	if err := json.Unmarshal(data, &asSlice); err == nil {
		*a = permissions.Normalize(asSlice)
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return err
	}
	*a = permissions.Normalize(asString)
	return nil
}

// RoleClaim is the role snapshot embedded in the access token.
type RoleClaim struct {
	Name           string            `json:"name"`
	Authorizations AuthorizationList `json:"authorizations"`
}

// Claims is the fixed access-token claim set. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Username     string           `json:"username"`
	ActorType    reqctx.ActorType `json:"actorType"`
	CompanyID    string           `json:"companyId,omitempty"`
	BranchID     string           `json:"branchId,omitempty"`
	DriverID     string           `json:"driverId,omitempty"`
	Role         *RoleClaim       `json:"role,omitempty"`
	IsSuperAdmin bool             `json:"isSuperAdmin"`
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// Permissions returns the canonical authorization sequence, empty when the
// token carries no role.
func (c *Claims) Permissions() []string {
	if c.Role == nil {
		return nil
	}
	return c.Role.Authorizations
}

// Manager signs and verifies access tokens
type Manager struct {
	config *config.JWTConfig
}

// NewManager creates a new JWT manager
func NewManager(cfg *config.JWTConfig) *Manager {
	return &Manager{config: cfg}
}

// TokenInput contains the actor snapshot baked into a new access token.
type TokenInput struct {
	UserID       string
	Username     string
	ActorType    reqctx.ActorType
	CompanyID    string
	BranchID     string
	DriverID     string
	RoleName     string
	Permissions  []string
	IsSuperAdmin bool
}

// Generate mints a signed access token. The claims are a snapshot only; the
// request pipeline always re-reads the actor from the database.
func (m *Manager) Generate(in *TokenInput) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.Expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   in.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Username:     in.Username,
		ActorType:    in.ActorType,
		CompanyID:    in.CompanyID,
		BranchID:     in.BranchID,
		DriverID:     in.DriverID,
		IsSuperAdmin: in.IsSuperAdmin,
	}
	if in.RoleName != "" || len(in.Permissions) > 0 {
		claims.Role = &RoleClaim{
			Name:           in.RoleName,
			Authorizations: permissions.Normalize(in.Permissions),
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// Verify validates a token string and returns the claims
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.TokenInvalid()
		}
		return []byte(m.config.Secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.TokenExpired()
		}
		return nil, errors.TokenInvalid()
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.TokenInvalid()
	}

	if claims.ActorType != reqctx.ActorWeb && claims.ActorType != reqctx.ActorMobile {
		return nil, errors.TokenInvalid()
	}

	return claims, nil
}

// FromRequest extracts and verifies the access token. Extraction precedence:
// the access_token cookie, then the Authorization bearer header. Returns
// (nil, nil) when the request carries no token at all; any present-but-bad
// token is UNAUTHENTICATED.
func (m *Manager) FromRequest(r *http.Request) (*Claims, error) {
	raw := ExtractToken(r)
	if raw == "" {
		return nil, nil
	}
	return m.Verify(raw)
}

// ExtractToken pulls the raw token string from a request without verifying it.
func ExtractToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}

	return ""
}

// Expiry returns the configured access token lifetime.
func (m *Manager) Expiry() time.Duration {
	return m.config.Expiration
}
