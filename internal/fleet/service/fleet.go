// Package service orchestrates fleet operations: driver, vehicle, mission and
// route management plus daily route planning.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	companydomain "github.com/dispatchd/dispatch-backend/internal/company/domain"
	companyservice "github.com/dispatchd/dispatch-backend/internal/company/service"
	"github.com/dispatchd/dispatch-backend/internal/fleet/domain"
	"github.com/dispatchd/dispatch-backend/internal/fleet/repository"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
	"github.com/dispatchd/dispatch-backend/pkg/messaging"
)

// FleetService manages drivers, vehicles and missions. Creation of billable
// resources goes through the balance service first, so an exhausted plan
// rejects the write before any row exists.
type FleetService struct {
	drivers  *repository.DriverRepository
	vehicles *repository.VehicleRepository
	missions *repository.MissionRepository
	balances *companyservice.BalanceService
	events   *messaging.Publisher
	logger   *logger.Logger
}

// NewFleetService creates a new fleet service
func NewFleetService(
	drivers *repository.DriverRepository,
	vehicles *repository.VehicleRepository,
	missions *repository.MissionRepository,
	balances *companyservice.BalanceService,
	events *messaging.Publisher,
	log *logger.Logger,
) *FleetService {
	return &FleetService{
		drivers:  drivers,
		vehicles: vehicles,
		missions: missions,
		balances: balances,
		events:   events,
		logger:   log,
	}
}

// publish sends an event without failing the request; the write already
// committed its intent and a broker hiccup must not undo it.
func (s *FleetService) publish(ctx context.Context, eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("event publish failed")
	}
}

// DriverInput carries the editable driver fields.
type DriverInput struct {
	Name      string  `json:"name" validate:"required,min=1,max=200"`
	Phone     *string `json:"phone" validate:"omitempty,max=50"`
	LicenseNo *string `json:"licenseNo" validate:"omitempty,max=100"`
	BranchID  *string `json:"branchId" validate:"omitempty,uuid"`
}

// CreateDriver adds a driver to the company.
func (s *FleetService) CreateDriver(ctx context.Context, companyID string, in *DriverInput) (*domain.Driver, error) {
	d := &domain.Driver{
		ID:        uuid.New().String(),
		Name:      in.Name,
		Phone:     in.Phone,
		LicenseNo: in.LicenseNo,
		CompanyID: companyID,
		BranchID:  in.BranchID,
	}
	if err := s.drivers.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDriver loads one driver.
func (s *FleetService) GetDriver(ctx context.Context, companyID, id string) (*domain.Driver, error) {
	return s.drivers.GetByID(ctx, companyID, id)
}

// ListDrivers returns the company's drivers within the branch scope.
func (s *FleetService) ListDrivers(ctx context.Context, companyID, branchID string) ([]*domain.Driver, error) {
	return s.drivers.List(ctx, companyID, branchID)
}

// UpdateDriver applies the editable fields.
func (s *FleetService) UpdateDriver(ctx context.Context, companyID, id string, in *DriverInput) (*domain.Driver, error) {
	d, err := s.drivers.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	d.Name = in.Name
	d.Phone = in.Phone
	d.LicenseNo = in.LicenseNo
	d.BranchID = in.BranchID
	if err := s.drivers.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDriver soft-deletes a driver.
func (s *FleetService) DeleteDriver(ctx context.Context, companyID, id string) error {
	return s.drivers.Delete(ctx, companyID, id)
}

// VehicleInput carries the editable vehicle fields.
type VehicleInput struct {
	Name     string  `json:"name" validate:"required,min=1,max=200"`
	Plate    *string `json:"plate" validate:"omitempty,max=50"`
	Capacity int     `json:"capacity" validate:"gte=0"`
	BranchID *string `json:"branchId" validate:"omitempty,uuid"`
	DriverID *string `json:"driverId" validate:"omitempty,uuid"`
}

// CreateVehicle adds a vehicle after consuming one unit of the vehicle
// balance.
func (s *FleetService) CreateVehicle(ctx context.Context, companyID string, in *VehicleInput) (*domain.Vehicle, error) {
	if err := s.balances.Consume(ctx, companyID, companydomain.ActionVehicleCreate); err != nil {
		return nil, err
	}

	v := &domain.Vehicle{
		ID:        uuid.New().String(),
		Name:      in.Name,
		Plate:     in.Plate,
		Capacity:  in.Capacity,
		CompanyID: companyID,
		BranchID:  in.BranchID,
		DriverID:  in.DriverID,
	}
	if err := s.vehicles.Create(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetVehicle loads one vehicle.
func (s *FleetService) GetVehicle(ctx context.Context, companyID, id string) (*domain.Vehicle, error) {
	return s.vehicles.GetByID(ctx, companyID, id)
}

// ListVehicles returns the company's vehicles within the branch scope.
func (s *FleetService) ListVehicles(ctx context.Context, companyID, branchID string) ([]*domain.Vehicle, error) {
	return s.vehicles.List(ctx, companyID, branchID)
}

// UpdateVehicle applies the editable fields.
func (s *FleetService) UpdateVehicle(ctx context.Context, companyID, id string, in *VehicleInput) (*domain.Vehicle, error) {
	v, err := s.vehicles.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	v.Name = in.Name
	v.Plate = in.Plate
	v.Capacity = in.Capacity
	v.BranchID = in.BranchID
	v.DriverID = in.DriverID
	if err := s.vehicles.Update(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// DeleteVehicle soft-deletes a vehicle.
func (s *FleetService) DeleteVehicle(ctx context.Context, companyID, id string) error {
	return s.vehicles.Delete(ctx, companyID, id)
}

// MissionInput carries the editable mission fields.
type MissionInput struct {
	Address  string    `json:"address" validate:"required,min=1,max=500"`
	Lat      *float64  `json:"lat" validate:"omitempty,latitude"`
	Lon      *float64  `json:"lon" validate:"omitempty,longitude"`
	Date     time.Time `json:"date" validate:"required"`
	BranchID *string   `json:"branchId" validate:"omitempty,uuid"`
}

// CreateMission adds a delivery stop after consuming one unit of the mission
// balance.
func (s *FleetService) CreateMission(ctx context.Context, companyID string, in *MissionInput) (*domain.Mission, error) {
	if err := s.balances.Consume(ctx, companyID, companydomain.ActionMissionCreate); err != nil {
		return nil, err
	}

	m := &domain.Mission{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		BranchID:  in.BranchID,
		Address:   in.Address,
		Lat:       in.Lat,
		Lon:       in.Lon,
		Date:      in.Date,
		Status:    domain.MissionPending,
	}
	if err := s.missions.Create(ctx, m); err != nil {
		return nil, err
	}

	s.publish(ctx, messaging.EventMissionCreated, m)
	return m, nil
}

// GetMission loads one mission.
func (s *FleetService) GetMission(ctx context.Context, companyID, id string) (*domain.Mission, error) {
	return s.missions.GetByID(ctx, companyID, id)
}

// ListMissions returns the company's missions matching the filter.
func (s *FleetService) ListMissions(ctx context.Context, companyID string, f repository.MissionFilter) ([]*domain.Mission, error) {
	return s.missions.List(ctx, companyID, f)
}

// UpdateMission applies the editable fields. Assigned missions keep their
// route binding; only cancellation releases them.
func (s *FleetService) UpdateMission(ctx context.Context, companyID, id string, in *MissionInput) (*domain.Mission, error) {
	m, err := s.missions.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	m.Address = in.Address
	m.Lat = in.Lat
	m.Lon = in.Lon
	m.Date = in.Date
	m.BranchID = in.BranchID
	if err := s.missions.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetMissionStatus transitions a mission.
func (s *FleetService) SetMissionStatus(ctx context.Context, companyID, id, status string) (*domain.Mission, error) {
	switch status {
	case domain.MissionPending, domain.MissionAssigned, domain.MissionCompleted, domain.MissionCancelled:
	default:
		return nil, errors.BadRequest("invalid mission status")
	}

	m, err := s.missions.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	m.Status = status
	if err := s.missions.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMission soft-deletes a mission.
func (s *FleetService) DeleteMission(ctx context.Context, companyID, id string) error {
	return s.missions.Delete(ctx, companyID, id)
}
