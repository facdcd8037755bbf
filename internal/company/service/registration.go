// Package service implements company registration, the balance gate and
// branch/role management.
package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/dispatchd/dispatch-backend/internal/company/domain"
	"github.com/dispatchd/dispatch-backend/internal/company/repository"
	userdomain "github.com/dispatchd/dispatch-backend/internal/user/domain"
	userrepo "github.com/dispatchd/dispatch-backend/internal/user/repository"
	"github.com/dispatchd/dispatch-backend/pkg/config"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
	"github.com/dispatchd/dispatch-backend/pkg/messaging"
	"github.com/dispatchd/dispatch-backend/pkg/permissions"
	"github.com/dispatchd/dispatch-backend/pkg/reserved"
)

// RegistrationService creates tenants and seeds the superadmin.
type RegistrationService struct {
	db        *database.DB
	companies *repository.CompanyRepository
	branches  *repository.BranchRepository
	roles     *repository.RoleRepository
	balances  *repository.BalanceRepository
	webUsers  *userrepo.WebUserRepository
	events    *messaging.Publisher
	logger    *logger.Logger
}

// NewRegistrationService creates the registration service.
func NewRegistrationService(db *database.DB, companies *repository.CompanyRepository, branches *repository.BranchRepository, roles *repository.RoleRepository, balances *repository.BalanceRepository, webUsers *userrepo.WebUserRepository, events *messaging.Publisher, log *logger.Logger) *RegistrationService {
	return &RegistrationService{
		db:        db,
		companies: companies,
		branches:  branches,
		roles:     roles,
		balances:  balances,
		webUsers:  webUsers,
		events:    events,
		logger:    log,
	}
}

// RegisterCompanyInput carries a self-service company registration.
type RegisterCompanyInput struct {
	CompanyName string  `json:"companyName" validate:"required,min=2,max=100"`
	Username    string  `json:"username" validate:"required,min=3,max=50"`
	Password    string  `json:"password" validate:"required,min=8,max=72"`
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
}

// RegisterCompanyResult is the freshly created tenant.
type RegisterCompanyResult struct {
	Company *domain.Company  `json:"company"`
	Branch  *domain.Branch   `json:"branch"`
	Role    *domain.Role     `json:"role"`
	AdminID string           `json:"adminId"`
}

// RegisterCompany creates a tenant in one transaction: the company, its
// undeletable main branch, the companyAdmin role with the full permission
// catalog, the admin web user, and an unlimited default balance row.
func (s *RegistrationService) RegisterCompany(ctx context.Context, in *RegisterCompanyInput) (*RegisterCompanyResult, error) {
	username := strings.TrimSpace(in.Username)
	if reserved.IsForbiddenUsername(username) {
		return nil, errors.BadRequest("this username is not available")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "INTERNAL_ERROR", "failed to hash password", 500)
	}

	var result *RegisterCompanyResult
	err = s.db.SystemTransaction(ctx, func(tx *sqlx.Tx) error {
		taken, err := s.webUsers.ExistsByUsername(ctx, tx, username)
		if err != nil {
			return err
		}
		if taken {
			return errors.Conflict("username already taken")
		}

		company := &domain.Company{
			ID:   uuid.New().String(),
			Name: strings.TrimSpace(in.CompanyName),
		}
		if err := s.companies.Create(ctx, tx, company); err != nil {
			return err
		}

		branch := &domain.Branch{
			ID:        uuid.New().String(),
			Name:      reserved.MainBranch,
			CompanyID: company.ID,
		}
		if err := s.branches.Create(ctx, tx, branch); err != nil {
			return err
		}

		role := &domain.Role{
			ID:             uuid.New().String(),
			Name:           reserved.CompanyAdminRole,
			Authorizations: pq.StringArray(permissions.Catalog),
			CompanyID:      company.ID,
		}
		if err := s.roles.Create(ctx, tx, role); err != nil {
			return err
		}

		admin := &userdomain.WebUser{
			ID:           uuid.New().String(),
			Username:     username,
			PasswordHash: string(hash),
			Email:        in.Email,
			CompanyID:    &company.ID,
			BranchID:     &branch.ID,
			RoleID:       &role.ID,
		}
		if err := s.webUsers.Create(ctx, tx, admin); err != nil {
			return err
		}

		if err := s.balances.EnsureRow(ctx, tx, company.ID); err != nil {
			return err
		}

		result = &RegisterCompanyResult{
			Company: company,
			Branch:  branch,
			Role:    role,
			AdminID: admin.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("company_id", result.Company.ID).
		Str("admin_id", result.AdminID).
		Msg("company registered")

	if s.events != nil {
		if err := s.events.Publish(ctx, messaging.EventCompanyRegistered, result.Company); err != nil {
			s.logger.Warn().Err(err).Msg("event publish failed")
		}
	}
	return result, nil
}

// SeedSuperAdmin creates the configured superadmin account at startup if it
// does not exist yet. Idempotent across restarts.
func (s *RegistrationService) SeedSuperAdmin(ctx context.Context, cfg *config.SeedConfig) error {
	if !cfg.SuperAdmin {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SuperAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.db.SystemTransaction(ctx, func(tx *sqlx.Tx) error {
		exists, err := s.webUsers.ExistsByUsername(ctx, tx, cfg.SuperAdminUsername)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		admin := &userdomain.WebUser{
			ID:           uuid.New().String(),
			Username:     strings.TrimSpace(cfg.SuperAdminUsername),
			PasswordHash: string(hash),
			IsSuperAdmin: true,
		}
		if cfg.SuperAdminEmail != "" {
			admin.Email = &cfg.SuperAdminEmail
		}
		if err := s.webUsers.Create(ctx, tx, admin); err != nil {
			return err
		}

		s.logger.Info().Str("username", admin.Username).Msg("superadmin seeded")
		return nil
	})
}
