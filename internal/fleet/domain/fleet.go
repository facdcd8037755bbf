// Package domain holds the delivery fleet models: drivers, vehicles,
// missions and planned routes.
package domain

import "time"

// Driver is a person who drives for a company. Distinct from the mobile user
// account that may be linked to it.
type Driver struct {
	ID        string     `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Phone     *string    `db:"phone" json:"phone,omitempty"`
	LicenseNo *string    `db:"license_no" json:"licenseNo,omitempty"`
	CompanyID string     `db:"company_id" json:"companyId"`
	BranchID  *string    `db:"branch_id" json:"branchId,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// Vehicle is a deliverable unit of capacity.
type Vehicle struct {
	ID        string     `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Plate     *string    `db:"plate" json:"plate,omitempty"`
	Capacity  int        `db:"capacity" json:"capacity"`
	CompanyID string     `db:"company_id" json:"companyId"`
	BranchID  *string    `db:"branch_id" json:"branchId,omitempty"`
	DriverID  *string    `db:"driver_id" json:"driverId,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// Mission statuses.
const (
	MissionPending   = "pending"
	MissionAssigned  = "assigned"
	MissionCompleted = "completed"
	MissionCancelled = "cancelled"
)

// Mission is one delivery stop on a given date.
type Mission struct {
	ID        string     `db:"id" json:"id"`
	CompanyID string     `db:"company_id" json:"companyId"`
	BranchID  *string    `db:"branch_id" json:"branchId,omitempty"`
	RouteID   *string    `db:"route_id" json:"routeId,omitempty"`
	Address   string     `db:"address" json:"address"`
	Lat       *float64   `db:"lat" json:"lat,omitempty"`
	Lon       *float64   `db:"lon" json:"lon,omitempty"`
	Date      time.Time  `db:"date" json:"date"`
	Status    string     `db:"status" json:"status"`
	Seq       *int       `db:"seq" json:"seq,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// HasLocation reports whether the mission is geocoded and plannable.
func (m *Mission) HasLocation() bool {
	return m.Lat != nil && m.Lon != nil
}

// Route statuses.
const (
	RoutePlanned    = "planned"
	RouteInProgress = "in_progress"
	RouteCompleted  = "completed"
)

// Route is an ordered sequence of missions assigned to one vehicle for one
// date. Geometry is an encoded polyline when the road engine provided one.
type Route struct {
	ID        string     `db:"id" json:"id"`
	CompanyID string     `db:"company_id" json:"companyId"`
	BranchID  *string    `db:"branch_id" json:"branchId,omitempty"`
	VehicleID *string    `db:"vehicle_id" json:"vehicleId,omitempty"`
	DriverID  *string    `db:"driver_id" json:"driverId,omitempty"`
	Date      time.Time  `db:"date" json:"date"`
	Geometry  *string    `db:"geometry" json:"geometry,omitempty"`
	Distance  *float64   `db:"distance" json:"distance,omitempty"`
	Duration  *float64   `db:"duration" json:"duration,omitempty"`
	Status    string     `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`

	// Missions is populated on read paths that join the stops in.
	Missions []*Mission `db:"-" json:"missions,omitempty"`
}
