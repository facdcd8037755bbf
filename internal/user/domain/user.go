// Package domain holds the user-facing account models: back-office web
// users, driver-facing mobile users and the invite codes that create them.
package domain

import (
	"time"

	"github.com/lib/pq"
)

// WebUser is a back-office account. CompanyID is null for superadmins, which
// is why it is a pointer here and nullable in the schema.
type WebUser struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Email        *string    `db:"email" json:"email,omitempty"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	Address      *string    `db:"address" json:"address,omitempty"`
	ImageURL     *string    `db:"image_url" json:"imageUrl,omitempty"`
	CompanyID    *string    `db:"company_id" json:"companyId,omitempty"`
	BranchID     *string    `db:"branch_id" json:"branchId,omitempty"`
	RoleID       *string    `db:"role_id" json:"roleId,omitempty"`
	RoleName     string     `db:"role_name" json:"roleName,omitempty"`
	IsSuperAdmin bool       `db:"is_super_admin" json:"isSuperAdmin"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt    *time.Time `db:"deleted_at" json:"-"`

	// PasswordHash never leaves the server.
	PasswordHash string `db:"password_hash" json:"-"`
}

// MobileUser is a driver-facing account, always owned by exactly one company.
type MobileUser struct {
	ID           string         `db:"id" json:"id"`
	Username     string         `db:"username" json:"username"`
	Email        *string        `db:"email" json:"email,omitempty"`
	Phone        *string        `db:"phone" json:"phone,omitempty"`
	Address      *string        `db:"address" json:"address,omitempty"`
	CompanyID    string         `db:"company_id" json:"companyId"`
	BranchID     *string        `db:"branch_id" json:"branchId,omitempty"`
	RoleID       *string        `db:"role_id" json:"roleId,omitempty"`
	DriverID     *string        `db:"driver_id" json:"driverId,omitempty"`
	Permissions  pq.StringArray `db:"permissions" json:"permissions"`
	IsBlocked    bool           `db:"is_blocked" json:"isBlocked"`
	IsSuperAdmin bool           `db:"is_super_admin" json:"-"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
	DeletedAt    *time.Time     `db:"deleted_at" json:"-"`

	PasswordHash string `db:"password_hash" json:"-"`
}

// DriverInvite is a one-shot registration code bound to a driver. At most one
// unused invite may exist per driver at a time.
type DriverInvite struct {
	ID                 string     `db:"id" json:"id"`
	Code               string     `db:"code" json:"code"`
	CompanyID          string     `db:"company_id" json:"companyId"`
	BranchID           *string    `db:"branch_id" json:"branchId,omitempty"`
	DriverID           string     `db:"driver_id" json:"driverId"`
	RoleID             *string    `db:"role_id" json:"roleId,omitempty"`
	ExpiresAt          *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	UsedAt             *time.Time `db:"used_at" json:"usedAt,omitempty"`
	UsedByMobileUserID *string    `db:"used_by_mobile_user_id" json:"usedByMobileUserId,omitempty"`
	CreatedByID        *string    `db:"created_by_id" json:"createdById,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
}

// IsExpired reports whether the invite's expiry has passed. Invites without
// an expiry never expire.
func (i *DriverInvite) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// IsUsable reports whether the invite can still be redeemed at the given
// time.
func (i *DriverInvite) IsUsable(now time.Time) bool {
	return i.UsedAt == nil && !i.IsExpired(now)
}
