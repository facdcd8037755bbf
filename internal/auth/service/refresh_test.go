package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dispatchd/dispatch-backend/internal/auth/jwt"
	"github.com/dispatchd/dispatch-backend/internal/auth/repository"
	"github.com/dispatchd/dispatch-backend/pkg/config"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
)

var refreshTokenColumns = []string{
	"id", "user_id", "mobile_user_id", "token_hash", "expires_at", "is_revoked", "family_id", "created_at",
}

var webActorColumns = []string{
	"id", "username", "password_hash", "company_id", "branch_id", "driver_id",
	"role_name", "authorizations", "permissions", "is_super_admin", "is_blocked",
}

type authEnv struct {
	svc  *AuthService
	mock sqlmock.Sqlmock
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	log := logger.New("test", "test")
	db := database.NewFromDB(sqlx.NewDb(mockDB, "sqlmock"), log)
	cfg := &config.JWTConfig{
		Secret:      "test-secret-at-least-32-characters!",
		Issuer:      "dispatch-test",
		Expiration:  time.Minute,
		RefreshDays: 7,
	}

	svc := NewAuthService(
		db,
		repository.NewActorRepository(db),
		repository.NewRefreshTokenRepository(db),
		jwt.NewManager(cfg),
		cfg,
		log,
	)
	return &authEnv{svc: svc, mock: mock}
}

// storedToken builds the wire token and the row the repository would load for
// it.
func storedToken(t *testing.T, revoked bool, expiresAt time.Time) (raw string, rows *sqlmock.Rows) {
	t.Helper()

	id := uuid.New().String()
	secret := "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)

	rows = sqlmock.NewRows(refreshTokenColumns).
		AddRow(id, "u1", nil, string(hash), expiresAt, revoked, "fam1", time.Now())
	return id + "." + secret, rows
}

// expectSystemTx covers the transaction open and the superadmin scope the
// rotation runs under.
func (e *authEnv) expectSystemTx() {
	e.mock.ExpectBegin()
	e.mock.ExpectExec("set_config").WillReturnResult(sqlmock.NewResult(0, 0))
	e.mock.ExpectExec("set_config").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newAuthEnv(t)

	raw, rows := storedToken(t, false, time.Now().Add(time.Hour))
	env.mock.ExpectQuery("FROM refresh_token").WillReturnRows(rows)
	env.expectSystemTx()
	env.mock.ExpectExec("is_revoked = false").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectQuery("FROM web_user").
		WillReturnRows(sqlmock.NewRows(webActorColumns).
			AddRow("u1", "alice", "hash", "c1", "", "", "dispatcher", "{mission.read}", "{}", false, false))
	env.mock.ExpectExec("INSERT INTO refresh_token").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	pair, err := env.svc.Refresh(context.Background(), raw)
	require.NoError(t, err)
	require.NotNil(t, pair)

	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "u1", pair.Actor.ID)

	// The successor is a fresh token in the same wire form, never the one
	// presented.
	newID, newSecret, ok := splitRefreshToken(pair.RefreshToken)
	require.True(t, ok)
	assert.NotEqual(t, raw, pair.RefreshToken)
	assert.NotEmpty(t, newSecret)
	presentedID, _, _ := splitRefreshToken(raw)
	assert.NotEqual(t, presentedID, newID)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	env := newAuthEnv(t)

	raw, rows := storedToken(t, true, time.Now().Add(time.Hour))
	env.mock.ExpectQuery("FROM refresh_token").WillReturnRows(rows)
	// Presenting a revoked token kills every token in the family.
	env.mock.ExpectExec("WHERE family_id").WillReturnResult(sqlmock.NewResult(0, 3))

	pair, err := env.svc.Refresh(context.Background(), raw)
	assert.Nil(t, pair)
	assert.True(t, errors.Is(err, errors.ErrUnauthenticated))
	assert.ErrorContains(t, err, "reuse")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRefreshConcurrentRotationLosesCleanly(t *testing.T) {
	env := newAuthEnv(t)

	raw, rows := storedToken(t, false, time.Now().Add(time.Hour))
	env.mock.ExpectQuery("FROM refresh_token").WillReturnRows(rows)
	env.expectSystemTx()
	// Another request revoked the row between the read and the conditional
	// update; zero rows means this rotation lost.
	env.mock.ExpectExec("is_revoked = false").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectRollback()

	pair, err := env.svc.Refresh(context.Background(), raw)
	assert.Nil(t, pair)
	assert.True(t, errors.Is(err, errors.ErrUnauthenticated))
	assert.ErrorContains(t, err, "already rotated")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRefreshExpiredToken(t *testing.T) {
	env := newAuthEnv(t)

	raw, rows := storedToken(t, false, time.Now().Add(-time.Hour))
	env.mock.ExpectQuery("FROM refresh_token").WillReturnRows(rows)

	_, err := env.svc.Refresh(context.Background(), raw)
	assert.True(t, errors.Is(err, errors.ErrTokenExpired))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRefreshWrongSecret(t *testing.T) {
	env := newAuthEnv(t)

	raw, rows := storedToken(t, false, time.Now().Add(time.Hour))
	env.mock.ExpectQuery("FROM refresh_token").WillReturnRows(rows)

	id, _, ok := splitRefreshToken(raw)
	require.True(t, ok)

	_, err := env.svc.Refresh(context.Background(), id+".attacker-guess")
	assert.True(t, errors.Is(err, errors.ErrUnauthenticated))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRefreshMalformedTokenTouchesNothing(t *testing.T) {
	env := newAuthEnv(t)

	_, err := env.svc.Refresh(context.Background(), "not-a-token")
	assert.True(t, errors.Is(err, errors.ErrUnauthenticated))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}
