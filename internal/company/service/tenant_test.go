package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchd/dispatch-backend/internal/company/repository"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

var (
	branchColumns = []string{"id", "name", "company_id", "created_at", "updated_at", "deleted_at"}
	roleColumns   = []string{"id", "name", "description", "authorizations", "company_id", "created_at", "updated_at", "deleted_at"}
)

type tenantEnv struct {
	svc  *TenantService
	mock sqlmock.Sqlmock
}

func newTenantEnv(t *testing.T) *tenantEnv {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewFromDB(sqlx.NewDb(mockDB, "sqlmock"), logger.New("test", "test"))
	svc := NewTenantService(db,
		repository.NewCompanyRepository(db),
		repository.NewBranchRepository(db),
		repository.NewRoleRepository(db))
	return &tenantEnv{svc: svc, mock: mock}
}

func adminCtx() context.Context {
	return reqctx.With(context.Background(), &reqctx.Context{
		UserID:    "u1",
		CompanyID: "c1",
		RoleName:  "companyAdmin",
	})
}

func superadminCtx() context.Context {
	return reqctx.With(context.Background(), &reqctx.Context{
		UserID:       "sa1",
		IsSuperAdmin: true,
	})
}

func (e *tenantEnv) expectBranchLoad(name string) {
	e.mock.ExpectQuery("FROM branch").
		WillReturnRows(sqlmock.NewRows(branchColumns).
			AddRow("b1", name, "c1", time.Now(), time.Now(), nil))
}

func (e *tenantEnv) expectRoleLoad(name string) {
	e.mock.ExpectQuery("FROM role").
		WillReturnRows(sqlmock.NewRows(roleColumns).
			AddRow("r1", name, nil, "{branch.read}", "c1", time.Now(), time.Now(), nil))
}

func TestDeleteBranchMainProtection(t *testing.T) {
	t.Run("company admin cannot delete main", func(t *testing.T) {
		env := newTenantEnv(t)
		env.expectBranchLoad("main")

		err := env.svc.DeleteBranch(adminCtx(), "c1", "b1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
		assert.ErrorContains(t, err, "main branch")
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("superadmin may delete main", func(t *testing.T) {
		env := newTenantEnv(t)
		env.expectBranchLoad("main")
		env.mock.ExpectExec("UPDATE branch SET deleted_at").WillReturnResult(sqlmock.NewResult(0, 1))

		err := env.svc.DeleteBranch(superadminCtx(), "c1", "b1")
		assert.NoError(t, err)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})
}

func TestRenameBranchMainProtection(t *testing.T) {
	t.Run("company admin cannot rename main", func(t *testing.T) {
		env := newTenantEnv(t)
		env.expectBranchLoad("main")

		_, err := env.svc.RenameBranch(adminCtx(), "c1", "b1", &BranchInput{Name: "hq"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
		assert.ErrorContains(t, err, "cannot be renamed")
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("company admin cannot rename onto the reserved name", func(t *testing.T) {
		env := newTenantEnv(t)
		env.expectBranchLoad("north depot")

		_, err := env.svc.RenameBranch(adminCtx(), "c1", "b1", &BranchInput{Name: "Main"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
		assert.ErrorContains(t, err, "reserved")
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("superadmin may rename main", func(t *testing.T) {
		env := newTenantEnv(t)
		env.expectBranchLoad("main")
		env.mock.ExpectExec("UPDATE branch SET name").WillReturnResult(sqlmock.NewResult(0, 1))

		branch, err := env.svc.RenameBranch(superadminCtx(), "c1", "b1", &BranchInput{Name: "headquarters"})
		require.NoError(t, err)
		assert.Equal(t, "headquarters", branch.Name)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})
}

func TestCreateBranchReservedName(t *testing.T) {
	t.Run("company admin cannot create a second main", func(t *testing.T) {
		env := newTenantEnv(t)

		_, err := env.svc.CreateBranch(adminCtx(), "c1", &BranchInput{Name: "main"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("superadmin may create a main branch", func(t *testing.T) {
		env := newTenantEnv(t)
		env.mock.ExpectQuery("INSERT INTO branch").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))

		branch, err := env.svc.CreateBranch(superadminCtx(), "c1", &BranchInput{Name: "main"})
		require.NoError(t, err)
		assert.Equal(t, "main", branch.Name)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})
}

func TestRoleCompanyAdminProtection(t *testing.T) {
	t.Run("company admin cannot create the reserved role", func(t *testing.T) {
		env := newTenantEnv(t)

		_, err := env.svc.CreateRole(adminCtx(), "c1", &RoleInput{
			Name:           "companyAdmin",
			Authorizations: []string{"branch.read"},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("superadmin may create the reserved role", func(t *testing.T) {
		env := newTenantEnv(t)
		env.mock.ExpectQuery("INSERT INTO role").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))

		role, err := env.svc.CreateRole(superadminCtx(), "c1", &RoleInput{
			Name:           "companyAdmin",
			Authorizations: []string{"branch.read"},
		})
		require.NoError(t, err)
		assert.Equal(t, "companyAdmin", role.Name)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("company admin cannot modify the reserved role", func(t *testing.T) {
		env := newTenantEnv(t)
		env.expectRoleLoad("companyAdmin")

		_, err := env.svc.UpdateRole(adminCtx(), "c1", "r1", &RoleInput{
			Name:           "companyAdmin",
			Authorizations: []string{"branch.read"},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
		assert.ErrorContains(t, err, "cannot be modified")
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("company admin cannot delete the reserved role", func(t *testing.T) {
		env := newTenantEnv(t)
		env.expectRoleLoad("companyAdmin")

		err := env.svc.DeleteRole(adminCtx(), "c1", "r1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
		assert.ErrorContains(t, err, "cannot be deleted")
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("superadmin may delete the reserved role", func(t *testing.T) {
		env := newTenantEnv(t)
		env.expectRoleLoad("companyAdmin")
		env.mock.ExpectExec("UPDATE role SET deleted_at").WillReturnResult(sqlmock.NewResult(0, 1))

		err := env.svc.DeleteRole(superadminCtx(), "c1", "r1")
		assert.NoError(t, err)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})
}
