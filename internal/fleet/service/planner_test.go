package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchd/dispatch-backend/internal/fleet/domain"
	"github.com/dispatchd/dispatch-backend/pkg/config"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
)

func mission(id string, lat, lon float64) *domain.Mission {
	return &domain.Mission{ID: id, Lat: &lat, Lon: &lon}
}

func TestHaversine(t *testing.T) {
	t.Run("zero distance", func(t *testing.T) {
		assert.Equal(t, 0.0, haversine(48.85, 2.35, 48.85, 2.35))
	})

	t.Run("one degree of latitude", func(t *testing.T) {
		// A meridian degree is about 111.2 km.
		assert.InDelta(t, 111195, haversine(0, 0, 1, 0), 200)
	})

	t.Run("symmetry", func(t *testing.T) {
		assert.InDelta(t,
			haversine(48.85, 2.35, 51.51, -0.13),
			haversine(51.51, -0.13, 48.85, 2.35),
			0.001)
	})
}

func TestNearestNeighbourOrder(t *testing.T) {
	t.Run("starts at the northernmost stop and walks nearest-first", func(t *testing.T) {
		// Stops on one meridian; nearest-neighbour from the north end is a
		// straight southward sweep.
		missions := []*domain.Mission{
			mission("m1", 45.1, 7.0),
			mission("m3", 45.3, 7.0),
			mission("m2", 45.2, 7.0),
		}

		ordered := nearestNeighbourOrder(missions)
		require.Len(t, ordered, 3)
		assert.Equal(t, "m3", ordered[0].ID)
		assert.Equal(t, "m2", ordered[1].ID)
		assert.Equal(t, "m1", ordered[2].ID)
	})

	t.Run("input slice untouched", func(t *testing.T) {
		missions := []*domain.Mission{
			mission("a", 45.1, 7.0),
			mission("b", 45.3, 7.0),
		}
		nearestNeighbourOrder(missions)
		assert.Equal(t, "a", missions[0].ID)
		assert.Equal(t, "b", missions[1].ID)
	})

	t.Run("single stop", func(t *testing.T) {
		ordered := nearestNeighbourOrder([]*domain.Mission{mission("only", 45.0, 7.0)})
		require.Len(t, ordered, 1)
		assert.Equal(t, "only", ordered[0].ID)
	})
}

func TestGreedyAssign(t *testing.T) {
	vehicles := []*domain.Vehicle{
		{ID: "v1"},
		{ID: "v2"},
	}

	t.Run("splits evenly with remainder on the first vehicles", func(t *testing.T) {
		missions := []*domain.Mission{
			mission("m1", 45.1, 7.0),
			mission("m2", 45.2, 7.0),
			mission("m3", 45.3, 7.0),
			mission("m4", 45.4, 7.0),
			mission("m5", 45.5, 7.0),
		}

		assignments := greedyAssign(vehicles, missions)
		require.Len(t, assignments, 2)
		assert.Equal(t, "v1", assignments[0].vehicle.ID)
		assert.Len(t, assignments[0].missions, 3)
		assert.Equal(t, "v2", assignments[1].vehicle.ID)
		assert.Len(t, assignments[1].missions, 2)
	})

	t.Run("more vehicles than missions leaves spares empty", func(t *testing.T) {
		missions := []*domain.Mission{mission("m1", 45.1, 7.0)}

		assignments := greedyAssign(vehicles, missions)
		require.Len(t, assignments, 1)
		assert.Equal(t, "v1", assignments[0].vehicle.ID)
	})

	t.Run("every mission assigned exactly once", func(t *testing.T) {
		missions := []*domain.Mission{
			mission("m1", 45.1, 7.0),
			mission("m2", 45.2, 7.1),
			mission("m3", 45.3, 7.2),
		}

		seen := map[string]int{}
		for _, a := range greedyAssign(vehicles, missions) {
			for _, m := range a.missions {
				seen[m.ID]++
			}
		}
		assert.Equal(t, map[string]int{"m1": 1, "m2": 1, "m3": 1}, seen)
	})
}

func plannerWithVroom(t *testing.T, handler http.HandlerFunc) *PlannerService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &PlannerService{
		cfg:    &config.RoutingConfig{VroomURL: srv.URL, OSRMURL: srv.URL},
		vroom:  srv.Client(),
		osrm:   srv.Client(),
		logger: logger.New("test", "test"),
	}
}

func TestOptimize(t *testing.T) {
	vehicles := []*domain.Vehicle{
		{ID: "v1", Capacity: 10},
		{ID: "v2"},
	}
	missions := []*domain.Mission{
		mission("m1", 45.1, 7.0),
		mission("m2", 45.2, 7.1),
	}

	t.Run("maps vroom routes back to vehicles and missions", func(t *testing.T) {
		s := plannerWithVroom(t, func(w http.ResponseWriter, r *http.Request) {
			var req vroomRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Vehicles, 2)
			require.Len(t, req.Jobs, 2)
			// Slice positions are the ids.
			assert.Equal(t, []int{10}, req.Vehicles[0].Capacity)
			assert.Empty(t, req.Vehicles[1].Capacity)
			// One vehicle has capacity, so every job declares a delivery.
			assert.Equal(t, []int{1}, req.Jobs[0].Delivery)
			assert.Equal(t, [2]float64{7.0, 45.1}, req.Jobs[0].Location)
			assert.True(t, req.Options.Geometry, "solve request must ask for geometry")

			json.NewEncoder(w).Encode(vroomResponse{
				Routes: []vroomRoute{
					{Vehicle: 1, Steps: []vroomStep{
						{Type: "start"},
						{Type: "job", Job: 1},
						{Type: "job", Job: 0},
						{Type: "end"},
					}},
				},
			})
		})

		assignments, err := s.optimize(context.Background(), vehicles, missions)
		require.NoError(t, err)
		require.Len(t, assignments, 1)
		assert.Equal(t, "v2", assignments[0].vehicle.ID)
		require.Len(t, assignments[0].missions, 2)
		assert.Equal(t, "m2", assignments[0].missions[0].ID)
		assert.Equal(t, "m1", assignments[0].missions[1].ID)
	})

	t.Run("solver error code fails", func(t *testing.T) {
		s := plannerWithVroom(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(vroomResponse{Code: 3, Error: "unroutable"})
		})

		_, err := s.optimize(context.Background(), vehicles, missions)
		assert.ErrorContains(t, err, "unroutable")
	})

	t.Run("non-200 fails", func(t *testing.T) {
		s := plannerWithVroom(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := s.optimize(context.Background(), vehicles, missions)
		assert.Error(t, err)
	})

	t.Run("out-of-range job index fails", func(t *testing.T) {
		s := plannerWithVroom(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(vroomResponse{
				Routes: []vroomRoute{
					{Vehicle: 0, Steps: []vroomStep{{Type: "job", Job: 99}}},
				},
			})
		})

		_, err := s.optimize(context.Background(), vehicles, missions)
		assert.Error(t, err)
	})

	t.Run("out-of-range vehicle index fails", func(t *testing.T) {
		s := plannerWithVroom(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(vroomResponse{
				Routes: []vroomRoute{{Vehicle: 5}},
			})
		})

		_, err := s.optimize(context.Background(), vehicles, missions)
		assert.Error(t, err)
	})
}

func TestAttachGeometrySkipsShortRoutes(t *testing.T) {
	// Fewer than two stops never leaves the function, so no HTTP client or
	// repository is needed.
	s := &PlannerService{logger: logger.New("test", "test")}

	rt := &domain.Route{ID: "r1", Missions: []*domain.Mission{mission("m1", 45.1, 7.0)}}
	s.attachGeometry(context.Background(), rt)
	assert.Nil(t, rt.Geometry)
}
