package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

var (
	// One container shared by every integration test in the run.
	globalContainer *PostgresContainer
	globalDB        *database.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a migrated database with the RLS role in place
// for integration tests.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if testing.Short() {
//	        os.Exit(m.Run())
//	    }
//	    ctx := context.Background()
//	    var err error
//	    suite, err = testutil.NewIntegrationSuite(ctx)
//	    if err != nil {
//	        panic("failed to create integration suite: " + err.Error())
//	    }
//	    code := m.Run()
//	    testutil.TerminateContainer(ctx)
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx)
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})
	if containerErr != nil {
		return nil, containerErr
	}

	return &IntegrationSuite{
		Container: globalContainer,
		DB:        globalDB,
	}, nil
}

// IntegrationSuite is the shared state behind a package's integration tests.
type IntegrationSuite struct {
	Container *PostgresContainer
	DB        *database.DB
}

// TerminateContainer stops the shared container. Only call in TestMain after
// all tests completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}

// CreateCompany seeds a committed company row under the system bypass and
// returns its id.
func (s *IntegrationSuite) CreateCompany(t *testing.T, ctx context.Context, name string) string {
	t.Helper()

	id := uuid.New().String()
	err := s.DB.SystemTransaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO company (id, name) VALUES ($1, $2)`, id, name)
		return err
	})
	if err != nil {
		t.Fatalf("failed to seed company: %v", err)
	}
	return id
}

// CreateBranch seeds a committed branch row under the system bypass and
// returns its id.
func (s *IntegrationSuite) CreateBranch(t *testing.T, ctx context.Context, companyID, name string) string {
	t.Helper()

	id := uuid.New().String()
	err := s.DB.SystemTransaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO branch (id, name, company_id) VALUES ($1, $2, $3)`, id, name, companyID)
		return err
	})
	if err != nil {
		t.Fatalf("failed to seed branch: %v", err)
	}
	return id
}

// TenantContext opens a request-shaped transaction scoped to one tenant and
// installs it in the returned context: dedicated connection, restricted role,
// session variables bound. The transaction is rolled back in t.Cleanup, so
// test writes never leak into other tests.
func (s *IntegrationSuite) TenantContext(t *testing.T, ctx context.Context, companyID string) context.Context {
	t.Helper()
	return s.requestContext(t, ctx, &reqctx.Context{CompanyID: companyID})
}

// SuperAdminContext opens a request-shaped transaction under the superadmin
// bypass, rolled back in t.Cleanup.
func (s *IntegrationSuite) SuperAdminContext(t *testing.T, ctx context.Context) context.Context {
	t.Helper()
	return s.requestContext(t, ctx, &reqctx.Context{IsSuperAdmin: true})
}

func (s *IntegrationSuite) requestContext(t *testing.T, ctx context.Context, rc *reqctx.Context) context.Context {
	t.Helper()

	rtx, err := s.DB.BeginRequestTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin request transaction: %v", err)
	}
	t.Cleanup(func() { rtx.Rollback() })

	if err := database.SetLocalRole(ctx, rtx.Tx); err != nil {
		t.Fatalf("failed to set restricted role: %v", err)
	}
	if err := database.SetTenantScope(ctx, rtx.Tx, rc.IsSuperAdmin, rc.CompanyID); err != nil {
		t.Fatalf("failed to set tenant scope: %v", err)
	}

	rc.Tx = rtx.Tx
	return reqctx.With(ctx, rc)
}
