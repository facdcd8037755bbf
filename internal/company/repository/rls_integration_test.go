package repository_test

import (
	"context"
	"flag"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchd/dispatch-backend/internal/company/domain"
	"github.com/dispatchd/dispatch-backend/internal/company/repository"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		panic("failed to create integration suite: " + err.Error())
	}

	code := m.Run()
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

// ==========================================================================
// Row-level security: the policies, not the query filters, are the boundary
// ==========================================================================

func TestRowPolicyScopesReads(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	companyA := suite.CreateCompany(t, ctx, "rls-reads-a")
	companyB := suite.CreateCompany(t, ctx, "rls-reads-b")
	branchA := suite.CreateBranch(t, ctx, companyA, "main")
	suite.CreateBranch(t, ctx, companyB, "main")

	companies := repository.NewCompanyRepository(suite.DB)
	branches := repository.NewBranchRepository(suite.DB)

	tenantCtx := suite.TenantContext(t, ctx, companyA)

	t.Run("company list collapses to the own tenant", func(t *testing.T) {
		got, err := companies.List(tenantCtx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, companyA, got[0].ID)
	})

	t.Run("foreign branch invisible even when asked for directly", func(t *testing.T) {
		// The query filter says company B; the policy still hides the row.
		got, err := branches.List(tenantCtx, companyB)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("own branch readable", func(t *testing.T) {
		got, err := branches.GetByID(tenantCtx, companyA, branchA)
		require.NoError(t, err)
		assert.Equal(t, "main", got.Name)
	})

	t.Run("foreign company lookup is a not-found, not a leak", func(t *testing.T) {
		_, err := companies.GetByID(tenantCtx, companyB)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestRowPolicyBlocksCrossTenantWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	companyA := suite.CreateCompany(t, ctx, "rls-writes-a")
	companyB := suite.CreateCompany(t, ctx, "rls-writes-b")

	branches := repository.NewBranchRepository(suite.DB)
	tenantCtx := suite.TenantContext(t, ctx, companyA)

	t.Run("insert into the own tenant passes", func(t *testing.T) {
		b := &domain.Branch{ID: uuid.New().String(), Name: "depot north", CompanyID: companyA}
		assert.NoError(t, branches.Create(tenantCtx, suite.DB.Ext(tenantCtx), b))
	})

	t.Run("insert into a foreign tenant violates the policy", func(t *testing.T) {
		b := &domain.Branch{ID: uuid.New().String(), Name: "smuggled", CompanyID: companyB}
		assert.Error(t, branches.Create(tenantCtx, suite.DB.Ext(tenantCtx), b))
	})
}

func TestSuperAdminBypassSeesAllTenants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	companyA := suite.CreateCompany(t, ctx, "rls-bypass-a")
	companyB := suite.CreateCompany(t, ctx, "rls-bypass-b")

	companies := repository.NewCompanyRepository(suite.DB)
	adminCtx := suite.SuperAdminContext(t, ctx)

	got, err := companies.List(adminCtx)
	require.NoError(t, err)

	ids := make(map[string]bool, len(got))
	for _, c := range got {
		ids[c.ID] = true
	}
	assert.True(t, ids[companyA])
	assert.True(t, ids[companyB])
}

func TestRequestRollbackDiscardsWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	companyID := suite.CreateCompany(t, ctx, "rls-rollback")
	branches := repository.NewBranchRepository(suite.DB)

	branchID := uuid.New().String()

	// The subtest's cleanup rolls the request transaction back before the
	// outer assertions run.
	t.Run("write inside a rolled-back request", func(t *testing.T) {
		tenantCtx := suite.TenantContext(t, ctx, companyID)
		b := &domain.Branch{ID: branchID, Name: "ephemeral", CompanyID: companyID}
		require.NoError(t, branches.Create(tenantCtx, suite.DB.Ext(tenantCtx), b))

		got, err := branches.GetByID(tenantCtx, companyID, branchID)
		require.NoError(t, err)
		assert.Equal(t, "ephemeral", got.Name)
	})

	adminCtx := suite.SuperAdminContext(t, ctx)
	_, err := branches.GetByID(adminCtx, companyID, branchID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
