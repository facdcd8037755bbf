package service

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/google/uuid"

	fleetrepo "github.com/dispatchd/dispatch-backend/internal/fleet/repository"
	"github.com/dispatchd/dispatch-backend/internal/user/domain"
	"github.com/dispatchd/dispatch-backend/internal/user/repository"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// inviteCodeLength is the number of characters in a generated invite code.
const inviteCodeLength = 10

// inviteCodeAlphabet avoids characters that read ambiguously on a phone
// screen (0/O, 1/I/L).
const inviteCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// InviteService manages driver invite codes.
type InviteService struct {
	invites *repository.InviteRepository
	drivers *fleetrepo.DriverRepository
}

// NewInviteService creates a new invite service
func NewInviteService(invites *repository.InviteRepository, drivers *fleetrepo.DriverRepository) *InviteService {
	return &InviteService{invites: invites, drivers: drivers}
}

// CreateInviteInput selects the driver the code is for and the account shape
// the registration will produce.
type CreateInviteInput struct {
	DriverID     string  `json:"driverId" validate:"required,uuid"`
	BranchID     *string `json:"branchId" validate:"omitempty,uuid"`
	RoleID       *string `json:"roleId" validate:"omitempty,uuid"`
	ExpiresInHrs *int    `json:"expiresInHours" validate:"omitempty,gt=0,lte=8760"`
}

// Create issues an invite code for a driver. The partial unique index on the
// driver surfaces a second active invite as a conflict.
func (s *InviteService) Create(ctx context.Context, companyID string, in *CreateInviteInput) (*domain.DriverInvite, error) {
	driver, err := s.drivers.GetByID(ctx, companyID, in.DriverID)
	if err != nil {
		return nil, err
	}

	code, err := newInviteCode()
	if err != nil {
		return nil, errors.Wrap(err, "INTERNAL_ERROR", "failed to generate invite code", 500)
	}

	inv := &domain.DriverInvite{
		ID:        uuid.New().String(),
		Code:      code,
		CompanyID: companyID,
		BranchID:  in.BranchID,
		DriverID:  driver.ID,
		RoleID:    in.RoleID,
	}
	if inv.BranchID == nil {
		inv.BranchID = driver.BranchID
	}
	if in.ExpiresInHrs != nil {
		t := time.Now().Add(time.Duration(*in.ExpiresInHrs) * time.Hour)
		inv.ExpiresAt = &t
	}
	if rc := reqctx.From(ctx); rc != nil && rc.UserID != "" {
		inv.CreatedByID = &rc.UserID
	}

	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// List returns the company's invites.
func (s *InviteService) List(ctx context.Context, companyID string) ([]*domain.DriverInvite, error) {
	return s.invites.List(ctx, companyID)
}

// Revoke deletes an unused invite.
func (s *InviteService) Revoke(ctx context.Context, id string) error {
	return s.invites.Revoke(ctx, id)
}

func newInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(buf), nil
}
