// Package service orchestrates account management: back-office users, mobile
// users and the invite codes that create them.
package service

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	companyrepo "github.com/dispatchd/dispatch-backend/internal/company/repository"
	"github.com/dispatchd/dispatch-backend/internal/user/domain"
	"github.com/dispatchd/dispatch-backend/internal/user/repository"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/reserved"
)

// WebUserService manages back-office accounts.
type WebUserService struct {
	db    *database.DB
	users *repository.WebUserRepository
	roles *companyrepo.RoleRepository
}

// NewWebUserService creates a new web user service
func NewWebUserService(db *database.DB, users *repository.WebUserRepository, roles *companyrepo.RoleRepository) *WebUserService {
	return &WebUserService{db: db, users: users, roles: roles}
}

// CreateWebUserInput carries the fields for a new back-office account.
type CreateWebUserInput struct {
	Username string  `json:"username" validate:"required,min=3,max=50"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Phone    *string `json:"phone" validate:"omitempty,max=50"`
	Address  *string `json:"address" validate:"omitempty,max=500"`
	RoleID   *string `json:"roleId" validate:"omitempty,uuid"`
	BranchID *string `json:"branchId" validate:"omitempty,uuid"`
}

// Create adds a web user to the company. Web usernames are globally unique.
func (s *WebUserService) Create(ctx context.Context, companyID string, in *CreateWebUserInput) (*domain.WebUser, error) {
	if reserved.IsForbiddenUsername(in.Username) {
		return nil, errors.BadRequest("username not allowed")
	}

	taken, err := s.users.ExistsByUsername(ctx, s.db.Ext(ctx), in.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, errors.Conflict("username already taken")
	}

	if in.RoleID != nil {
		if _, err := s.roles.GetByID(ctx, companyID, *in.RoleID); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "INTERNAL_ERROR", "failed to hash password", 500)
	}

	u := &domain.WebUser{
		ID:           uuid.New().String(),
		Username:     reserved.Normalize(in.Username),
		Email:        in.Email,
		Phone:        in.Phone,
		Address:      in.Address,
		CompanyID:    &companyID,
		BranchID:     in.BranchID,
		RoleID:       in.RoleID,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, s.db.Ext(ctx), u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get loads one web user.
func (s *WebUserService) Get(ctx context.Context, id string) (*domain.WebUser, error) {
	return s.users.GetByID(ctx, id)
}

// List returns the company's web users.
func (s *WebUserService) List(ctx context.Context, companyID string) ([]*domain.WebUser, error) {
	return s.users.List(ctx, companyID)
}

// UpdateWebUserInput carries the editable profile fields.
type UpdateWebUserInput struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	Phone    *string `json:"phone" validate:"omitempty,max=50"`
	Address  *string `json:"address" validate:"omitempty,max=500"`
	ImageURL *string `json:"imageUrl" validate:"omitempty,url"`
	RoleID   *string `json:"roleId" validate:"omitempty,uuid"`
	BranchID *string `json:"branchId" validate:"omitempty,uuid"`
}

// Update applies the editable fields.
func (s *WebUserService) Update(ctx context.Context, companyID, id string, in *UpdateWebUserInput) (*domain.WebUser, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.RoleID != nil && (u.RoleID == nil || *in.RoleID != *u.RoleID) {
		if _, err := s.roles.GetByID(ctx, companyID, *in.RoleID); err != nil {
			return nil, err
		}
	}

	u.Email = in.Email
	u.Phone = in.Phone
	u.Address = in.Address
	u.ImageURL = in.ImageURL
	u.RoleID = in.RoleID
	u.BranchID = in.BranchID
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ChangePasswordInput carries a password change request.
type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
}

// ChangePassword verifies the current password and stores the new hash.
func (s *WebUserService) ChangePassword(ctx context.Context, id string, in *ChangePasswordInput) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.CurrentPassword)) != nil {
		return errors.BadRequest("current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "INTERNAL_ERROR", "failed to hash password", 500)
	}
	return s.users.UpdatePassword(ctx, id, string(hash))
}

// Delete soft-deletes a web user. An account cannot delete itself.
func (s *WebUserService) Delete(ctx context.Context, callerID, id string) error {
	if callerID == id {
		return errors.BadRequest("cannot delete your own account")
	}
	return s.users.Delete(ctx, id)
}
