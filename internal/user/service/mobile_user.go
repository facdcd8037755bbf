package service

import (
	"context"

	"github.com/lib/pq"

	companyrepo "github.com/dispatchd/dispatch-backend/internal/company/repository"
	"github.com/dispatchd/dispatch-backend/internal/user/domain"
	"github.com/dispatchd/dispatch-backend/internal/user/repository"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/permissions"
)

// MobileUserService manages driver-facing accounts. Creation happens only
// through invite registration; this service covers administration and the
// driver's own profile.
type MobileUserService struct {
	users *repository.MobileUserRepository
	roles *companyrepo.RoleRepository
}

// NewMobileUserService creates a new mobile user service
func NewMobileUserService(users *repository.MobileUserRepository, roles *companyrepo.RoleRepository) *MobileUserService {
	return &MobileUserService{users: users, roles: roles}
}

// Get loads one mobile user.
func (s *MobileUserService) Get(ctx context.Context, id string) (*domain.MobileUser, error) {
	return s.users.GetByID(ctx, id)
}

// List returns the company's mobile users within the branch scope.
func (s *MobileUserService) List(ctx context.Context, companyID, branchID string) ([]*domain.MobileUser, error) {
	return s.users.List(ctx, companyID, branchID)
}

// UpdateMobileUserInput carries the admin-editable fields.
type UpdateMobileUserInput struct {
	Email       *string  `json:"email" validate:"omitempty,email"`
	Phone       *string  `json:"phone" validate:"omitempty,max=50"`
	Address     *string  `json:"address" validate:"omitempty,max=500"`
	BranchID    *string  `json:"branchId" validate:"omitempty,uuid"`
	RoleID      *string  `json:"roleId" validate:"omitempty,uuid"`
	Permissions []string `json:"permissions"`
}

// Update applies the admin-editable fields, including the permission list the
// account carries on the mobile surface.
func (s *MobileUserService) Update(ctx context.Context, companyID, id string, in *UpdateMobileUserInput) (*domain.MobileUser, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Permissions != nil {
		if err := validatePermissions(in.Permissions); err != nil {
			return nil, err
		}
		u.Permissions = pq.StringArray(permissions.Normalize(in.Permissions))
	}
	if in.RoleID != nil && (u.RoleID == nil || *in.RoleID != *u.RoleID) {
		if _, err := s.roles.GetByID(ctx, companyID, *in.RoleID); err != nil {
			return nil, err
		}
	}

	u.Email = in.Email
	u.Phone = in.Phone
	u.Address = in.Address
	u.BranchID = in.BranchID
	u.RoleID = in.RoleID
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ProfileInput carries the fields a driver may edit on their own account.
type ProfileInput struct {
	Email   *string `json:"email" validate:"omitempty,email"`
	Phone   *string `json:"phone" validate:"omitempty,max=50"`
	Address *string `json:"address" validate:"omitempty,max=500"`
}

// UpdateProfile applies the self-service fields only; branch, role and
// permissions stay whatever an admin set.
func (s *MobileUserService) UpdateProfile(ctx context.Context, id string, in *ProfileInput) (*domain.MobileUser, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Email = in.Email
	u.Phone = in.Phone
	u.Address = in.Address
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetBlocked flips the block flag. A blocked account fails the pipeline's
// refresh phase on its next request.
func (s *MobileUserService) SetBlocked(ctx context.Context, id string, blocked bool) (*domain.MobileUser, error) {
	if err := s.users.SetBlocked(ctx, id, blocked); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, id)
}

// Delete soft-deletes a mobile user.
func (s *MobileUserService) Delete(ctx context.Context, id string) error {
	return s.users.Delete(ctx, id)
}

func validatePermissions(perms []string) error {
	for _, p := range perms {
		if !permissions.HasPermission(permissions.Catalog, p) {
			return errors.BadRequest("unknown permission: " + p)
		}
	}
	return nil
}
