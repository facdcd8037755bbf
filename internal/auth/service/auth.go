// Package service implements authentication: credential login, refresh-token
// rotation with family reuse detection, logout and invite-code registration.
package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/dispatchd/dispatch-backend/internal/auth/jwt"
	"github.com/dispatchd/dispatch-backend/internal/auth/repository"
	"github.com/dispatchd/dispatch-backend/pkg/config"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// refreshSecretBytes sizes the random half of a refresh token. 32 bytes hex
// encodes to 64 characters, safely under the bcrypt input limit.
const refreshSecretBytes = 32

// AuthService implements login, token rotation and logout.
type AuthService struct {
	db      *database.DB
	actors  *repository.ActorRepository
	refresh *repository.RefreshTokenRepository
	tokens  *jwt.Manager
	cfg     *config.JWTConfig
	logger  *logger.Logger
}

// NewAuthService creates the auth service.
func NewAuthService(db *database.DB, actors *repository.ActorRepository, refresh *repository.RefreshTokenRepository, tokens *jwt.Manager, cfg *config.JWTConfig, log *logger.Logger) *AuthService {
	return &AuthService{
		db:      db,
		actors:  actors,
		refresh: refresh,
		tokens:  tokens,
		cfg:     cfg,
		logger:  log,
	}
}

// LoginInput carries a credential login. CompanyID disambiguates mobile
// logins when the same username exists in several companies.
type LoginInput struct {
	Username  string           `json:"username" validate:"required"`
	Password  string           `json:"password" validate:"required"`
	ActorType reqctx.ActorType `json:"-"`
	CompanyID string           `json:"companyId"`
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken   string
	RefreshToken  string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
	Actor         *repository.ActorRecord
}

// Login verifies credentials and issues a fresh token pair with a new
// rotation family.
func (s *AuthService) Login(ctx context.Context, in *LoginInput) (*TokenPair, error) {
	var pair *TokenPair
	err := s.db.SystemTransaction(ctx, func(tx *sqlx.Tx) error {
		actor, err := s.resolveLogin(ctx, tx, in)
		if err != nil {
			return err
		}

		if err := bcrypt.CompareHashAndPassword([]byte(actor.PasswordHash), []byte(in.Password)); err != nil {
			return errors.InvalidCredentials()
		}

		if actor.IsBlocked {
			return errors.Unauthenticated("account is blocked")
		}

		pair, err = s.issuePair(ctx, tx, actor, uuid.New().String())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", pair.Actor.ID).
		Str("actor_type", string(pair.Actor.ActorType)).
		Msg("login succeeded")
	return pair, nil
}

func (s *AuthService) resolveLogin(ctx context.Context, tx *sqlx.Tx, in *LoginInput) (*repository.ActorRecord, error) {
	if in.ActorType != reqctx.ActorMobile {
		return s.actors.FindWebUserByUsername(ctx, tx, in.Username)
	}

	if in.CompanyID != "" {
		return s.actors.FindMobileUserByUsernameAndCompany(ctx, tx, in.Username, in.CompanyID)
	}

	matches, err := s.actors.FindMobileUsersByUsername(ctx, tx, in.Username)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, errors.InvalidCredentials()
	case 1:
		return matches[0], nil
	default:
		// Same username in several companies; the client must say which.
		return nil, errors.BadRequest("username exists in multiple companies, companyId is required")
	}
}

// Refresh rotates a refresh token: the presented token is revoked and a
// successor in the same family is issued together with a new access token.
// Presenting an already-revoked token means the token leaked, so the whole
// family is revoked and the caller is signed out everywhere.
func (s *AuthService) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	id, secret, ok := splitRefreshToken(raw)
	if !ok {
		return nil, errors.Unauthenticated("invalid refresh token")
	}

	// The token table carries no tenant policy, so the initial row read runs
	// on the pool.
	row, err := s.refresh.FindByID(ctx, s.db.DB, id)
	if err != nil {
		return nil, err
	}

	if row.IsRevoked {
		if err := s.refresh.RevokeFamily(ctx, s.db.DB, row.FamilyID); err != nil {
			return nil, err
		}
		ownerID, actorType := row.OwnerID()
		s.logger.Warn().
			Str("user_id", ownerID).
			Str("actor_type", string(actorType)).
			Str("family_id", row.FamilyID).
			Msg("refresh token reuse detected, family revoked")
		return nil, errors.Unauthenticated("refresh token reuse detected")
	}

	if time.Now().After(row.ExpiresAt) {
		return nil, errors.TokenExpired()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.TokenHash), []byte(secret)); err != nil {
		return nil, errors.Unauthenticated("invalid refresh token")
	}

	ownerID, actorType := row.OwnerID()

	var pair *TokenPair
	err = s.db.SystemTransaction(ctx, func(tx *sqlx.Tx) error {
		won, err := s.refresh.RevokeIfLive(ctx, tx, row.ID)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent refresh rotated this token first.
			return errors.Unauthenticated("refresh token already rotated")
		}

		actor, err := s.actors.FindByID(ctx, tx, actorType, ownerID)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				return errors.Unauthenticated("account no longer exists")
			}
			return err
		}
		if actor.IsBlocked {
			return errors.Unauthenticated("account is blocked")
		}

		pair, err = s.issuePair(ctx, tx, actor, row.FamilyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes the presented refresh token. A malformed or unknown token is
// not an error; logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	id, _, ok := splitRefreshToken(raw)
	if !ok {
		return nil
	}
	return s.refresh.Revoke(ctx, s.db.DB, id)
}

// LogoutAll revokes every live refresh token the current actor holds.
func (s *AuthService) LogoutAll(ctx context.Context) error {
	rc := reqctx.From(ctx)
	if rc == nil {
		return errors.Unauthenticated("authentication required")
	}
	return s.refresh.RevokeAllForActor(ctx, s.db.Ext(ctx), rc.ActorType, rc.UserID)
}

// issuePair mints an access token and a stored refresh token for the actor.
func (s *AuthService) issuePair(ctx context.Context, tx *sqlx.Tx, actor *repository.ActorRecord, familyID string) (*TokenPair, error) {
	access, accessExpiry, err := s.tokens.Generate(&jwt.TokenInput{
		UserID:       actor.ID,
		Username:     actor.Username,
		ActorType:    actor.ActorType,
		CompanyID:    actor.CompanyID,
		BranchID:     actor.BranchID,
		DriverID:     actor.DriverID,
		RoleName:     actor.RoleName,
		Permissions:  actor.EffectivePermissions(),
		IsSuperAdmin: actor.IsSuperAdmin,
	})
	if err != nil {
		return nil, errors.Wrap(err, "INTERNAL_ERROR", "failed to sign access token", 500)
	}

	secretRaw := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(secretRaw); err != nil {
		return nil, errors.Wrap(err, "INTERNAL_ERROR", "failed to generate refresh secret", 500)
	}
	secret := hex.EncodeToString(secretRaw)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "INTERNAL_ERROR", "failed to hash refresh secret", 500)
	}

	refreshExpiry := time.Now().Add(s.cfg.RefreshExpiry())
	row := &repository.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: string(hash),
		ExpiresAt: refreshExpiry,
		FamilyID:  familyID,
	}
	if actor.ActorType == reqctx.ActorMobile {
		row.MobileUserID = sql.NullString{String: actor.ID, Valid: true}
	} else {
		row.UserID = sql.NullString{String: actor.ID, Valid: true}
	}

	if err := s.refresh.Create(ctx, tx, row); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:   access,
		RefreshToken:  row.ID + "." + secret,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
		Actor:         actor,
	}, nil
}

// splitRefreshToken parses the opaque "<id>.<secret>" wire form.
func splitRefreshToken(raw string) (id, secret string, ok bool) {
	id, secret, found := strings.Cut(raw, ".")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", "", false
	}
	return id, secret, true
}
