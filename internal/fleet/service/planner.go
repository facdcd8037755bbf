package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchd/dispatch-backend/internal/fleet/domain"
	"github.com/dispatchd/dispatch-backend/internal/fleet/repository"
	"github.com/dispatchd/dispatch-backend/pkg/config"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
	"github.com/dispatchd/dispatch-backend/pkg/messaging"
)

// PlannerService turns a day's unassigned missions into routes. Ordering
// comes from VROOM when it is reachable; otherwise a nearest-neighbour pass
// keeps planning available. OSRM geometry is attached best-effort afterwards.
type PlannerService struct {
	routes   *repository.RouteRepository
	missions *repository.MissionRepository
	vehicles *repository.VehicleRepository
	cfg      *config.RoutingConfig
	vroom    *http.Client
	osrm     *http.Client
	events   *messaging.Publisher
	logger   *logger.Logger
}

// NewPlannerService creates a new planner service
func NewPlannerService(
	routes *repository.RouteRepository,
	missions *repository.MissionRepository,
	vehicles *repository.VehicleRepository,
	cfg *config.RoutingConfig,
	events *messaging.Publisher,
	log *logger.Logger,
) *PlannerService {
	return &PlannerService{
		routes:   routes,
		missions: missions,
		vehicles: vehicles,
		cfg:      cfg,
		vroom:    &http.Client{Timeout: cfg.VroomTimeout},
		osrm:     &http.Client{Timeout: cfg.OSRMTimeout},
		events:   events,
		logger:   log,
	}
}

// PlanInput selects what to plan.
type PlanInput struct {
	Date       time.Time `json:"date" validate:"required"`
	BranchID   string    `json:"branchId" validate:"omitempty,uuid"`
	VehicleIDs []string  `json:"vehicleIds" validate:"omitempty,dive,uuid"`
}

// PlanRoutes plans the given date's pending, geocoded missions across the
// selected vehicles and persists the resulting routes with their stop order.
func (s *PlannerService) PlanRoutes(ctx context.Context, companyID string, in *PlanInput) ([]*domain.Route, error) {
	missions, err := s.missions.List(ctx, companyID, repository.MissionFilter{
		Date:       &in.Date,
		BranchID:   in.BranchID,
		Status:     domain.MissionPending,
		Unassigned: true,
	})
	if err != nil {
		return nil, err
	}

	plannable := missions[:0]
	for _, m := range missions {
		if m.HasLocation() {
			plannable = append(plannable, m)
		}
	}
	if len(plannable) == 0 {
		return nil, errors.BadRequest("no plannable missions for this date")
	}

	vehicles, err := s.selectVehicles(ctx, companyID, in)
	if err != nil {
		return nil, err
	}
	if len(vehicles) == 0 {
		return nil, errors.BadRequest("no vehicles available for planning")
	}

	assignments, err := s.optimize(ctx, vehicles, plannable)
	if err != nil {
		s.logger.Warn().Err(err).Msg("optimizer unavailable, falling back to nearest-neighbour")
		assignments = greedyAssign(vehicles, plannable)
	}

	routes := make([]*domain.Route, 0, len(assignments))
	for _, a := range assignments {
		if len(a.missions) == 0 {
			continue
		}

		rt := &domain.Route{
			ID:        uuid.New().String(),
			CompanyID: companyID,
			BranchID:  a.vehicle.BranchID,
			VehicleID: &a.vehicle.ID,
			DriverID:  a.vehicle.DriverID,
			Date:      in.Date,
			Status:    domain.RoutePlanned,
		}
		if err := s.routes.Create(ctx, rt); err != nil {
			return nil, err
		}

		for seq, m := range a.missions {
			if err := s.missions.AssignToRoute(ctx, companyID, m.ID, rt.ID, seq+1); err != nil {
				return nil, err
			}
		}
		rt.Missions = a.missions

		s.attachGeometry(ctx, rt)
		routes = append(routes, rt)
	}

	if s.events != nil {
		for _, rt := range routes {
			if err := s.events.Publish(ctx, messaging.EventRoutePlanned, rt); err != nil {
				s.logger.Warn().Err(err).Str("route_id", rt.ID).Msg("event publish failed")
			}
		}
	}

	return routes, nil
}

// GetRoute loads a route with its stops.
func (s *PlannerService) GetRoute(ctx context.Context, companyID, id string) (*domain.Route, error) {
	rt, err := s.routes.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	rt.Missions, err = s.missions.ListByRoute(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// ListRoutes returns the company's routes for a date within the branch scope.
func (s *PlannerService) ListRoutes(ctx context.Context, companyID string, date *time.Time, branchID string) ([]*domain.Route, error) {
	return s.routes.List(ctx, companyID, date, branchID)
}

// SetRouteStatus transitions a route.
func (s *PlannerService) SetRouteStatus(ctx context.Context, companyID, id, status string) (*domain.Route, error) {
	switch status {
	case domain.RoutePlanned, domain.RouteInProgress, domain.RouteCompleted:
	default:
		return nil, errors.BadRequest("invalid route status")
	}
	if err := s.routes.UpdateStatus(ctx, companyID, id, status); err != nil {
		return nil, err
	}
	return s.GetRoute(ctx, companyID, id)
}

// DeleteRoute removes a route and releases its missions back to pending.
func (s *PlannerService) DeleteRoute(ctx context.Context, companyID, id string) error {
	return s.routes.Delete(ctx, companyID, id)
}

func (s *PlannerService) selectVehicles(ctx context.Context, companyID string, in *PlanInput) ([]*domain.Vehicle, error) {
	vehicles, err := s.vehicles.List(ctx, companyID, in.BranchID)
	if err != nil {
		return nil, err
	}
	if len(in.VehicleIDs) == 0 {
		return vehicles, nil
	}

	wanted := make(map[string]bool, len(in.VehicleIDs))
	for _, id := range in.VehicleIDs {
		wanted[id] = true
	}
	selected := vehicles[:0]
	for _, v := range vehicles {
		if wanted[v.ID] {
			selected = append(selected, v)
		}
	}
	if len(selected) != len(wanted) {
		return nil, errors.BadRequest("unknown vehicle in selection")
	}
	return selected, nil
}

type assignment struct {
	vehicle  *domain.Vehicle
	missions []*domain.Mission
}

// VROOM request/response shapes. VROOM wants integer ids, so positions in the
// input slices double as ids.
type vroomVehicle struct {
	ID       int    `json:"id"`
	Capacity []int  `json:"capacity,omitempty"`
	Profile  string `json:"profile,omitempty"`
}

type vroomJob struct {
	ID       int        `json:"id"`
	Location [2]float64 `json:"location"` // lon, lat
	Delivery []int      `json:"delivery,omitempty"`
}

type vroomOptions struct {
	Geometry bool `json:"g"`
}

type vroomRequest struct {
	Vehicles []vroomVehicle `json:"vehicles"`
	Jobs     []vroomJob     `json:"jobs"`
	Options  vroomOptions   `json:"options"`
}

type vroomStep struct {
	Type string `json:"type"`
	Job  int    `json:"job"`
}

type vroomRoute struct {
	Vehicle int         `json:"vehicle"`
	Steps   []vroomStep `json:"steps"`
}

type vroomResponse struct {
	Code   int          `json:"code"`
	Error  string       `json:"error"`
	Routes []vroomRoute `json:"routes"`
}

func (s *PlannerService) optimize(ctx context.Context, vehicles []*domain.Vehicle, missions []*domain.Mission) ([]assignment, error) {
	req := vroomRequest{
		Vehicles: make([]vroomVehicle, len(vehicles)),
		Jobs:     make([]vroomJob, len(missions)),
		// Ask the solver for route geometry so the response can be stored
		// even when OSRM is down.
		Options: vroomOptions{Geometry: true},
	}
	for i, v := range vehicles {
		req.Vehicles[i] = vroomVehicle{ID: i}
		if v.Capacity > 0 {
			req.Vehicles[i].Capacity = []int{v.Capacity}
		}
	}
	hasCapacity := false
	for _, v := range vehicles {
		if v.Capacity > 0 {
			hasCapacity = true
		}
	}
	for i, m := range missions {
		req.Jobs[i] = vroomJob{ID: i, Location: [2]float64{*m.Lon, *m.Lat}}
		if hasCapacity {
			req.Jobs[i].Delivery = []int{1}
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.VroomURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.vroom.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vroom returned status %d", resp.StatusCode)
	}

	var out vroomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("vroom error: %s", out.Error)
	}

	assignments := make([]assignment, 0, len(out.Routes))
	for _, r := range out.Routes {
		if r.Vehicle < 0 || r.Vehicle >= len(vehicles) {
			return nil, fmt.Errorf("vroom returned unknown vehicle %d", r.Vehicle)
		}
		a := assignment{vehicle: vehicles[r.Vehicle]}
		for _, step := range r.Steps {
			if step.Type != "job" {
				continue
			}
			if step.Job < 0 || step.Job >= len(missions) {
				return nil, fmt.Errorf("vroom returned unknown job %d", step.Job)
			}
			a.missions = append(a.missions, missions[step.Job])
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

// greedyAssign splits missions evenly across vehicles and orders each chunk
// nearest-neighbour, starting from the northernmost stop.
func greedyAssign(vehicles []*domain.Vehicle, missions []*domain.Mission) []assignment {
	perVehicle := (len(missions) + len(vehicles) - 1) / len(vehicles)

	assignments := make([]assignment, 0, len(vehicles))
	for i, v := range vehicles {
		lo := i * perVehicle
		if lo >= len(missions) {
			break
		}
		hi := lo + perVehicle
		if hi > len(missions) {
			hi = len(missions)
		}
		assignments = append(assignments, assignment{
			vehicle:  v,
			missions: nearestNeighbourOrder(missions[lo:hi]),
		})
	}
	return assignments
}

func nearestNeighbourOrder(missions []*domain.Mission) []*domain.Mission {
	remaining := make([]*domain.Mission, len(missions))
	copy(remaining, missions)

	sort.Slice(remaining, func(i, j int) bool { return *remaining[i].Lat > *remaining[j].Lat })

	ordered := make([]*domain.Mission, 0, len(remaining))
	for len(remaining) > 0 {
		var next int
		if len(ordered) > 0 {
			last := ordered[len(ordered)-1]
			best := math.MaxFloat64
			for i, m := range remaining {
				if d := haversine(*last.Lat, *last.Lon, *m.Lat, *m.Lon); d < best {
					best = d
					next = i
				}
			}
		}
		ordered = append(ordered, remaining[next])
		remaining = append(remaining[:next], remaining[next+1:]...)
	}
	return ordered
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000

	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}

// OSRM response shape, trimmed to what we store.
type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry string  `json:"geometry"`
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

// attachGeometry asks OSRM for the road path through the route's stops. A
// failure leaves the route usable without geometry.
func (s *PlannerService) attachGeometry(ctx context.Context, rt *domain.Route) {
	if len(rt.Missions) < 2 {
		return
	}

	coords := ""
	for i, m := range rt.Missions {
		if i > 0 {
			coords += ";"
		}
		coords += fmt.Sprintf("%f,%f", *m.Lon, *m.Lat)
	}
	url := fmt.Sprintf("%s/route/v1/driving/%s?overview=full&geometries=polyline", s.cfg.OSRMURL, coords)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("route_id", rt.ID).Msg("osrm request build failed")
		return
	}

	resp, err := s.osrm.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Str("route_id", rt.ID).Msg("osrm unavailable, route stored without geometry")
		return
	}
	defer resp.Body.Close()

	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Code != "Ok" || len(out.Routes) == 0 {
		s.logger.Warn().Str("route_id", rt.ID).Str("osrm_code", out.Code).Msg("osrm returned no route")
		return
	}

	geom := out.Routes[0].Geometry
	dist := out.Routes[0].Distance
	dur := out.Routes[0].Duration
	if err := s.routes.SetGeometry(ctx, rt.CompanyID, rt.ID, &geom, &dist, &dur); err != nil {
		s.logger.Warn().Err(err).Str("route_id", rt.ID).Msg("failed to store route geometry")
		return
	}
	rt.Geometry = &geom
	rt.Distance = &dist
	rt.Duration = &dur
}
