package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/dispatchd/dispatch-backend/internal/company/domain"
	"github.com/dispatchd/dispatch-backend/internal/company/repository"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/permissions"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
	"github.com/dispatchd/dispatch-backend/pkg/reserved"
)

// TenantService manages a company's branches and roles, enforcing the
// reserved-name rules.
type TenantService struct {
	db        *database.DB
	companies *repository.CompanyRepository
	branches  *repository.BranchRepository
	roles     *repository.RoleRepository
}

// NewTenantService creates the tenant service.
func NewTenantService(db *database.DB, companies *repository.CompanyRepository, branches *repository.BranchRepository, roles *repository.RoleRepository) *TenantService {
	return &TenantService{db: db, companies: companies, branches: branches, roles: roles}
}

// reservedBypass reports whether the caller may touch reserved names. Only
// superadmins may rename or delete the main branch and manage the
// companyAdmin role.
func reservedBypass(ctx context.Context) bool {
	rc := reqctx.From(ctx)
	return rc != nil && rc.IsSuperAdmin
}

// GetCompany returns the company record.
func (s *TenantService) GetCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	return s.companies.GetByID(ctx, companyID)
}

// ListCompanies returns all companies. Superadmin only; for anyone else the
// row policy reduces the result to their own tenant.
func (s *TenantService) ListCompanies(ctx context.Context) ([]*domain.Company, error) {
	return s.companies.List(ctx)
}

// BranchInput carries a branch create or rename.
type BranchInput struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

// CreateBranch adds a branch. The reserved main-branch name is refused for
// non-superadmins; every company already has one.
func (s *TenantService) CreateBranch(ctx context.Context, companyID string, in *BranchInput) (*domain.Branch, error) {
	name := strings.TrimSpace(in.Name)
	if !reservedBypass(ctx) && reserved.IsMainBranch(name) {
		return nil, errors.BadRequest("branch name is reserved")
	}

	branch := &domain.Branch{
		ID:        uuid.New().String(),
		Name:      name,
		CompanyID: companyID,
	}
	if err := s.branches.Create(ctx, s.db.Ext(ctx), branch); err != nil {
		return nil, err
	}
	return branch, nil
}

// ListBranches returns the company's branches.
func (s *TenantService) ListBranches(ctx context.Context, companyID string) ([]*domain.Branch, error) {
	return s.branches.List(ctx, companyID)
}

// RenameBranch renames a branch. For non-superadmins neither the main branch
// itself nor the reserved name are touchable.
func (s *TenantService) RenameBranch(ctx context.Context, companyID, branchID string, in *BranchInput) (*domain.Branch, error) {
	branch, err := s.branches.GetByID(ctx, companyID, branchID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if !reservedBypass(ctx) {
		if reserved.IsMainBranch(branch.Name) {
			return nil, errors.BadRequest("the main branch cannot be renamed")
		}
		if reserved.IsMainBranch(name) {
			return nil, errors.BadRequest("branch name is reserved")
		}
	}

	if err := s.branches.Rename(ctx, companyID, branchID, name); err != nil {
		return nil, err
	}
	branch.Name = name
	return branch, nil
}

// DeleteBranch soft-deletes a branch, refusing the main branch for
// non-superadmins.
func (s *TenantService) DeleteBranch(ctx context.Context, companyID, branchID string) error {
	branch, err := s.branches.GetByID(ctx, companyID, branchID)
	if err != nil {
		return err
	}
	if !reservedBypass(ctx) && reserved.IsMainBranch(branch.Name) {
		return errors.BadRequest("the main branch cannot be deleted")
	}
	return s.branches.Delete(ctx, companyID, branchID)
}

// RoleInput carries a role create or update.
type RoleInput struct {
	Name           string   `json:"name" validate:"required,min=1,max=100"`
	Description    *string  `json:"description,omitempty"`
	Authorizations []string `json:"authorizations" validate:"required"`
}

// CreateRole adds a role. The companyAdmin name is reserved for superadmins
// and every authorization must come from the known catalog.
func (s *TenantService) CreateRole(ctx context.Context, companyID string, in *RoleInput) (*domain.Role, error) {
	name := strings.TrimSpace(in.Name)
	if !reservedBypass(ctx) && reserved.IsCompanyAdminRole(name) {
		return nil, errors.BadRequest("role name is reserved")
	}

	auths, err := validateAuthorizations(in.Authorizations)
	if err != nil {
		return nil, err
	}

	role := &domain.Role{
		ID:             uuid.New().String(),
		Name:           name,
		Description:    in.Description,
		Authorizations: pq.StringArray(auths),
		CompanyID:      companyID,
	}
	if err := s.roles.Create(ctx, s.db.Ext(ctx), role); err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns the company's roles.
func (s *TenantService) ListRoles(ctx context.Context, companyID string) ([]*domain.Role, error) {
	return s.roles.List(ctx, companyID)
}

// UpdateRole replaces a role's definition. The companyAdmin role is immutable
// for non-superadmins.
func (s *TenantService) UpdateRole(ctx context.Context, companyID, roleID string, in *RoleInput) (*domain.Role, error) {
	role, err := s.roles.GetByID(ctx, companyID, roleID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if !reservedBypass(ctx) {
		if reserved.IsCompanyAdminRole(role.Name) {
			return nil, errors.BadRequest("the companyAdmin role cannot be modified")
		}
		if reserved.IsCompanyAdminRole(name) {
			return nil, errors.BadRequest("role name is reserved")
		}
	}

	auths, err := validateAuthorizations(in.Authorizations)
	if err != nil {
		return nil, err
	}

	role.Name = name
	role.Description = in.Description
	role.Authorizations = pq.StringArray(auths)
	if err := s.roles.Update(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole soft-deletes a role, refusing companyAdmin for non-superadmins.
func (s *TenantService) DeleteRole(ctx context.Context, companyID, roleID string) error {
	role, err := s.roles.GetByID(ctx, companyID, roleID)
	if err != nil {
		return err
	}
	if !reservedBypass(ctx) && reserved.IsCompanyAdminRole(role.Name) {
		return errors.BadRequest("the companyAdmin role cannot be deleted")
	}
	return s.roles.Delete(ctx, companyID, roleID)
}

func validateAuthorizations(raw []string) ([]string, error) {
	auths := permissions.Normalize(raw)
	for _, a := range auths {
		if !permissions.HasPermission(permissions.Catalog, a) {
			return nil, errors.Validation(map[string]string{
				"authorizations": "unknown permission: " + a,
			})
		}
	}
	return auths, nil
}
