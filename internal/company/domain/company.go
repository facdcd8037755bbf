// Package domain holds the tenant models: companies, their branches and
// roles, and the consumable company balance.
package domain

import (
	"time"

	"github.com/lib/pq"
)

// Company is a tenant. Everything else in the system hangs off a company id.
type Company struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Branch is an operating site within a company. Every company owns the
// undeletable "main" branch created at registration.
type Branch struct {
	ID        string     `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	CompanyID string     `db:"company_id" json:"companyId"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// Role is a named authorization set scoped to a company.
type Role struct {
	ID             string         `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	Description    *string        `db:"description" json:"description,omitempty"`
	Authorizations pq.StringArray `db:"authorizations" json:"authorizations"`
	CompanyID      string         `db:"company_id" json:"companyId"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
	DeletedAt      *time.Time     `db:"deleted_at" json:"-"`
}

// BalanceType selects which consumable the company pays with.
type BalanceType string

const (
	// BalancePerMissions meters mission creation against a prepaid total.
	BalancePerMissions BalanceType = "per_missions"

	// BalancePerVehiclesPerMonth meters vehicle creation against a monthly
	// allowance that resets at each month boundary.
	BalancePerVehiclesPerMonth BalanceType = "per_vehicles_per_month"
)

// BalanceAction names the operations that consume balance.
type BalanceAction string

const (
	ActionMissionCreate BalanceAction = "mission_create"
	ActionVehicleCreate BalanceAction = "vehicle_create"
)

// Gates reports whether the balance type meters the given action. An action
// the type does not meter passes for free.
func (t BalanceType) Gates(action BalanceAction) bool {
	switch t {
	case BalancePerMissions:
		return action == ActionMissionCreate
	case BalancePerVehiclesPerMonth:
		return action == ActionVehicleCreate
	default:
		return false
	}
}

// CompanyBalance is the single balance row per company. NULL remaining means
// unlimited.
type CompanyBalance struct {
	CompanyID    string      `db:"company_id" json:"companyId"`
	Type         BalanceType `db:"type" json:"type"`
	Total        *int        `db:"total" json:"total,omitempty"`
	Remaining    *int        `db:"remaining" json:"remaining,omitempty"`
	MonthlyLimit *int        `db:"monthly_limit" json:"monthlyLimit,omitempty"`
	PeriodStart  *time.Time  `db:"period_start" json:"periodStart,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updatedAt"`
}

// BalancePurchase is the audit row appended on every balance mutation by an
// admin, recording the post-state.
type BalancePurchase struct {
	ID                string      `db:"id" json:"id"`
	CompanyID         string      `db:"company_id" json:"companyId"`
	Type              BalanceType `db:"type" json:"type"`
	Quantity          int         `db:"quantity" json:"quantity"`
	CreatedByID       *string     `db:"created_by_id" json:"createdById,omitempty"`
	TotalAfter        *int        `db:"total_after" json:"totalAfter,omitempty"`
	RemainingAfter    *int        `db:"remaining_after" json:"remainingAfter,omitempty"`
	MonthlyLimitAfter *int        `db:"monthly_limit_after" json:"monthlyLimitAfter,omitempty"`
	PeriodStartAfter  *time.Time  `db:"period_start_after" json:"periodStartAfter,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"createdAt"`
}
