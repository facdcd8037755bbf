package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	userdomain "github.com/dispatchd/dispatch-backend/internal/user/domain"
	userrepo "github.com/dispatchd/dispatch-backend/internal/user/repository"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/messaging"
	"github.com/dispatchd/dispatch-backend/pkg/permissions"
	"github.com/dispatchd/dispatch-backend/pkg/reserved"
)

// RegisterInput carries an invite-code registration from the mobile app.
type RegisterInput struct {
	InviteCode string  `json:"inviteCode" validate:"required"`
	Username   string  `json:"username" validate:"required,min=3,max=50"`
	Password   string  `json:"password" validate:"required,min=8,max=72"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      *string `json:"phone,omitempty"`
}

// RegisterService redeems driver invites into mobile accounts.
type RegisterService struct {
	auth    *AuthService
	invites *userrepo.InviteRepository
	mobile  *userrepo.MobileUserRepository
	events  *messaging.Publisher
}

// NewRegisterService creates the registration service.
func NewRegisterService(auth *AuthService, invites *userrepo.InviteRepository, mobile *userrepo.MobileUserRepository, events *messaging.Publisher) *RegisterService {
	return &RegisterService{auth: auth, invites: invites, mobile: mobile, events: events}
}

// Register redeems an invite code in a single transaction: lock the invite,
// check it is still usable, create the mobile user with the invite's scope
// and the default permission set, stamp the invite used, and issue the first
// token pair. The invite row lock makes a double redemption of the same code
// lose cleanly.
func (s *RegisterService) Register(ctx context.Context, in *RegisterInput) (*TokenPair, error) {
	username := strings.TrimSpace(in.Username)
	if reserved.IsForbiddenUsername(username) {
		return nil, errors.BadRequest("this username is not available")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "INTERNAL_ERROR", "failed to hash password", 500)
	}

	var pair *TokenPair
	err = s.auth.db.SystemTransaction(ctx, func(tx *sqlx.Tx) error {
		invite, err := s.invites.FindByCodeForUpdate(ctx, tx, strings.TrimSpace(in.InviteCode))
		if err != nil {
			return err
		}
		if invite.UsedAt != nil {
			return errors.BadRequest("invalid invite code")
		}
		if invite.IsExpired(time.Now()) {
			return errors.BadRequest("invite code has expired")
		}

		taken, err := s.mobile.ExistsByUsernameInCompany(ctx, tx, invite.CompanyID, username)
		if err != nil {
			return err
		}
		if taken {
			return errors.BadRequest("username already taken")
		}

		user := &userdomain.MobileUser{
			ID:           uuid.New().String(),
			Username:     username,
			PasswordHash: string(hash),
			Email:        in.Email,
			Phone:        in.Phone,
			CompanyID:    invite.CompanyID,
			BranchID:     invite.BranchID,
			RoleID:       invite.RoleID,
			DriverID:     &invite.DriverID,
			Permissions:  pq.StringArray(permissions.DefaultMobilePermissions),
		}
		if err := s.mobile.Create(ctx, tx, user); err != nil {
			return err
		}

		if err := s.invites.MarkUsed(ctx, tx, invite.ID, user.ID); err != nil {
			return err
		}

		actor, err := s.auth.actors.FindMobileUserByID(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		pair, err = s.auth.issuePair(ctx, tx, actor, uuid.New().String())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.auth.logger.Info().
		Str("user_id", pair.Actor.ID).
		Str("company_id", pair.Actor.CompanyID).
		Msg("mobile user registered via invite")

	if s.events != nil {
		if err := s.events.Publish(ctx, messaging.EventMobileUserRegistered, map[string]string{
			"userId":    pair.Actor.ID,
			"companyId": pair.Actor.CompanyID,
			"username":  pair.Actor.Username,
		}); err != nil {
			s.auth.logger.Warn().Err(err).Msg("event publish failed")
		}
	}
	return pair, nil
}
