package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	userrepo "github.com/dispatchd/dispatch-backend/internal/user/repository"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

var inviteColumns = []string{
	"id", "code", "company_id", "branch_id", "driver_id", "role_id",
	"expires_at", "used_at", "used_by_mobile_user_id", "created_by_id", "created_at",
}

func newRegisterEnv(t *testing.T) (*RegisterService, *authEnv) {
	t.Helper()

	env := newAuthEnv(t)
	db := env.svc.db
	return NewRegisterService(env.svc, userrepo.NewInviteRepository(db), userrepo.NewMobileUserRepository(db), nil), env
}

func registerInput() *RegisterInput {
	return &RegisterInput{
		InviteCode: "XK4M9T2P",
		Username:   "newdriver",
		Password:   "password123",
	}
}

// inviteRow is an unused, unexpired invite for company c1 and driver d1.
func inviteRow(usedAt, expiresAt interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(inviteColumns).
		AddRow("inv1", "XK4M9T2P", "c1", nil, "d1", nil, expiresAt, usedAt, nil, nil, time.Now())
}

func TestRegisterRedeemsInvite(t *testing.T) {
	svc, env := newRegisterEnv(t)

	env.expectSystemTx()
	env.mock.ExpectQuery("FROM driver_invite").WillReturnRows(inviteRow(nil, nil))
	env.mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	env.mock.ExpectQuery("INSERT INTO mobile_user").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	env.mock.ExpectExec("UPDATE driver_invite").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectQuery("FROM mobile_user").
		WillReturnRows(sqlmock.NewRows(webActorColumns).
			AddRow("m1", "newdriver", "hash", "c1", "", "d1", "", "{}", "{mission.read,route.read,vehicle.read}", false, false))
	env.mock.ExpectExec("INSERT INTO refresh_token").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	pair, err := svc.Register(context.Background(), registerInput())
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "m1", pair.Actor.ID)
	assert.Equal(t, "c1", pair.Actor.CompanyID)

	_, _, ok := splitRefreshToken(pair.RefreshToken)
	assert.True(t, ok)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegisterRejectsUsedInvite(t *testing.T) {
	svc, env := newRegisterEnv(t)

	used := time.Now().Add(-time.Hour)
	env.expectSystemTx()
	env.mock.ExpectQuery("FROM driver_invite").WillReturnRows(inviteRow(used, nil))
	env.mock.ExpectRollback()

	pair, err := svc.Register(context.Background(), registerInput())
	assert.Nil(t, pair)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
	assert.ErrorContains(t, err, "invalid invite code")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegisterRejectsExpiredInvite(t *testing.T) {
	svc, env := newRegisterEnv(t)

	expired := time.Now().Add(-time.Minute)
	env.expectSystemTx()
	env.mock.ExpectQuery("FROM driver_invite").WillReturnRows(inviteRow(nil, expired))
	env.mock.ExpectRollback()

	pair, err := svc.Register(context.Background(), registerInput())
	assert.Nil(t, pair)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
	assert.ErrorContains(t, err, "expired")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegisterLosesDoubleRedemption(t *testing.T) {
	svc, env := newRegisterEnv(t)

	// The invite read saw an unused row, but the conditional stamp matched
	// nothing: a concurrent redemption of the same code committed first.
	env.expectSystemTx()
	env.mock.ExpectQuery("FROM driver_invite").WillReturnRows(inviteRow(nil, nil))
	env.mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	env.mock.ExpectQuery("INSERT INTO mobile_user").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	env.mock.ExpectExec("UPDATE driver_invite").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectRollback()

	pair, err := svc.Register(context.Background(), registerInput())
	assert.Nil(t, pair)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
	assert.ErrorContains(t, err, "already used")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegisterRejectsTakenUsername(t *testing.T) {
	svc, env := newRegisterEnv(t)

	env.expectSystemTx()
	env.mock.ExpectQuery("FROM driver_invite").WillReturnRows(inviteRow(nil, nil))
	env.mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	env.mock.ExpectRollback()

	pair, err := svc.Register(context.Background(), registerInput())
	assert.Nil(t, pair)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
	assert.ErrorContains(t, err, "username already taken")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegisterRejectsForbiddenUsername(t *testing.T) {
	svc, env := newRegisterEnv(t)

	in := registerInput()
	in.Username = "admin"

	pair, err := svc.Register(context.Background(), in)
	assert.Nil(t, pair)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}
