// Package handler exposes the fleet endpoints: drivers, vehicles, missions
// and route planning.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchd/dispatch-backend/internal/auth/middleware"
	"github.com/dispatchd/dispatch-backend/internal/fleet/repository"
	"github.com/dispatchd/dispatch-backend/internal/fleet/service"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/httputil"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// Handler serves the fleet module endpoints.
type Handler struct {
	fleet   *service.FleetService
	planner *service.PlannerService
}

// NewHandler creates the fleet handler.
func NewHandler(fleet *service.FleetService, planner *service.PlannerService) *Handler {
	return &Handler{fleet: fleet, planner: planner}
}

// Routes mounts the fleet endpoints behind the permission guards.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth())

		r.With(middleware.RequirePermissions("driver.read")).Get("/drivers", h.ListDrivers)
		r.With(middleware.RequirePermissions("driver.read")).Get("/drivers/{driverID}", h.GetDriver)
		r.With(middleware.RequirePermissions("driver.create")).Post("/drivers", h.CreateDriver)
		r.With(middleware.RequirePermissions("driver.update")).Put("/drivers/{driverID}", h.UpdateDriver)
		r.With(middleware.RequirePermissions("driver.delete")).Delete("/drivers/{driverID}", h.DeleteDriver)

		r.With(middleware.RequirePermissions("vehicle.read")).Get("/vehicles", h.ListVehicles)
		r.With(middleware.RequirePermissions("vehicle.read")).Get("/vehicles/{vehicleID}", h.GetVehicle)
		r.With(middleware.RequirePermissions("vehicle.create")).Post("/vehicles", h.CreateVehicle)
		r.With(middleware.RequirePermissions("vehicle.update")).Put("/vehicles/{vehicleID}", h.UpdateVehicle)
		r.With(middleware.RequirePermissions("vehicle.delete")).Delete("/vehicles/{vehicleID}", h.DeleteVehicle)

		r.With(middleware.RequirePermissions("mission.read")).Get("/missions", h.ListMissions)
		r.With(middleware.RequirePermissions("mission.read")).Get("/missions/{missionID}", h.GetMission)
		r.With(middleware.RequirePermissions("mission.create")).Post("/missions", h.CreateMission)
		r.With(middleware.RequirePermissions("mission.update")).Put("/missions/{missionID}", h.UpdateMission)
		r.With(middleware.RequirePermissions("mission.update")).Put("/missions/{missionID}/status", h.SetMissionStatus)
		r.With(middleware.RequirePermissions("mission.delete")).Delete("/missions/{missionID}", h.DeleteMission)

		r.With(middleware.RequirePermissions("route.read")).Get("/routes", h.ListRoutes)
		r.With(middleware.RequirePermissions("route.read")).Get("/routes/{routeID}", h.GetRoute)
		r.With(middleware.RequirePermissions("route.plan")).Post("/routes/plan", h.PlanRoutes)
		r.With(middleware.RequirePermissions("route.update")).Put("/routes/{routeID}/status", h.SetRouteStatus)
		r.With(middleware.RequirePermissions("route.delete")).Delete("/routes/{routeID}", h.DeleteRoute)
	})
}

// companyScope resolves the tenant a request operates on: superadmins name it
// via query parameter, everyone else is pinned to their own.
func companyScope(r *http.Request) (string, error) {
	rc := reqctx.From(r.Context())
	if rc == nil {
		return "", errors.Unauthenticated("authentication required")
	}
	if rc.IsSuperAdmin {
		if id := r.URL.Query().Get("companyId"); id != "" {
			return id, nil
		}
		return "", errors.BadRequest("companyId is required")
	}
	return reqctx.RequireCompanyID(r.Context())
}

// branchScope applies the branch narrowing rule to the branchId query
// parameter.
func branchScope(r *http.Request) string {
	return reqctx.From(r.Context()).EffectiveBranchID(r.URL.Query().Get("branchId"))
}

// queryDate parses an optional date=YYYY-MM-DD query parameter.
func queryDate(r *http.Request) (*time.Time, error) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, errors.BadRequest("date must be YYYY-MM-DD")
	}
	return &d, nil
}

// CreateDriver adds a driver.
func (h *Handler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.DriverInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	driver, err := h.fleet.CreateDriver(r.Context(), companyID, &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, driver)
}

// GetDriver returns one driver.
func (h *Handler) GetDriver(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	driver, err := h.fleet.GetDriver(r.Context(), companyID, chi.URLParam(r, "driverID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, driver)
}

// ListDrivers returns the drivers within the caller's branch scope.
func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	drivers, err := h.fleet.ListDrivers(r.Context(), companyID, branchScope(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, drivers)
}

// UpdateDriver applies the editable fields.
func (h *Handler) UpdateDriver(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.DriverInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	driver, err := h.fleet.UpdateDriver(r.Context(), companyID, chi.URLParam(r, "driverID"), &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, driver)
}

// DeleteDriver soft-deletes a driver.
func (h *Handler) DeleteDriver(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.fleet.DeleteDriver(r.Context(), companyID, chi.URLParam(r, "driverID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// CreateVehicle adds a vehicle, consuming the vehicle balance.
func (h *Handler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.VehicleInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	vehicle, err := h.fleet.CreateVehicle(r.Context(), companyID, &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, vehicle)
}

// GetVehicle returns one vehicle.
func (h *Handler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	vehicle, err := h.fleet.GetVehicle(r.Context(), companyID, chi.URLParam(r, "vehicleID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, vehicle)
}

// ListVehicles returns the vehicles within the caller's branch scope.
func (h *Handler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	vehicles, err := h.fleet.ListVehicles(r.Context(), companyID, branchScope(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, vehicles)
}

// UpdateVehicle applies the editable fields.
func (h *Handler) UpdateVehicle(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.VehicleInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	vehicle, err := h.fleet.UpdateVehicle(r.Context(), companyID, chi.URLParam(r, "vehicleID"), &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, vehicle)
}

// DeleteVehicle soft-deletes a vehicle.
func (h *Handler) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.fleet.DeleteVehicle(r.Context(), companyID, chi.URLParam(r, "vehicleID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// CreateMission adds a delivery stop, consuming the mission balance.
func (h *Handler) CreateMission(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.MissionInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	mission, err := h.fleet.CreateMission(r.Context(), companyID, &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, mission)
}

// GetMission returns one mission.
func (h *Handler) GetMission(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	mission, err := h.fleet.GetMission(r.Context(), companyID, chi.URLParam(r, "missionID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, mission)
}

// ListMissions returns the missions matching the date, status and branch
// filters.
func (h *Handler) ListMissions(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	date, err := queryDate(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	filter := repository.MissionFilter{
		Date:       date,
		BranchID:   branchScope(r),
		Status:     r.URL.Query().Get("status"),
		Unassigned: r.URL.Query().Get("unassigned") == "true",
	}
	missions, err := h.fleet.ListMissions(r.Context(), companyID, filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, missions)
}

// UpdateMission applies the editable fields.
func (h *Handler) UpdateMission(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.MissionInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	mission, err := h.fleet.UpdateMission(r.Context(), companyID, chi.URLParam(r, "missionID"), &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, mission)
}

type statusInput struct {
	Status string `json:"status" validate:"required"`
}

// SetMissionStatus transitions a mission.
func (h *Handler) SetMissionStatus(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in statusInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	mission, err := h.fleet.SetMissionStatus(r.Context(), companyID, chi.URLParam(r, "missionID"), in.Status)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, mission)
}

// DeleteMission soft-deletes a mission.
func (h *Handler) DeleteMission(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.fleet.DeleteMission(r.Context(), companyID, chi.URLParam(r, "missionID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// PlanRoutes plans the date's pending missions across vehicles.
func (h *Handler) PlanRoutes(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in service.PlanInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}
	in.BranchID = reqctx.From(r.Context()).EffectiveBranchID(in.BranchID)

	routes, err := h.planner.PlanRoutes(r.Context(), companyID, &in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, routes)
}

// GetRoute returns one route with its stops.
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	route, err := h.planner.GetRoute(r.Context(), companyID, chi.URLParam(r, "routeID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, route)
}

// ListRoutes returns the routes for a date within the caller's branch scope.
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	date, err := queryDate(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	routes, err := h.planner.ListRoutes(r.Context(), companyID, date, branchScope(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, routes)
}

// SetRouteStatus transitions a route.
func (h *Handler) SetRouteStatus(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var in statusInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	route, err := h.planner.SetRouteStatus(r.Context(), companyID, chi.URLParam(r, "routeID"), in.Status)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, route)
}

// DeleteRoute removes a route and releases its missions.
func (h *Handler) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.planner.DeleteRoute(r.Context(), companyID, chi.URLParam(r, "routeID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}
