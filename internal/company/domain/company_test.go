package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dispatchd/dispatch-backend/internal/company/domain"
)

func TestBalanceTypeGates(t *testing.T) {
	tests := []struct {
		name        string
		balanceType domain.BalanceType
		action      domain.BalanceAction
		want        bool
	}{
		{"per_missions meters mission creation", domain.BalancePerMissions, domain.ActionMissionCreate, true},
		{"per_missions ignores vehicle creation", domain.BalancePerMissions, domain.ActionVehicleCreate, false},
		{"per_vehicles meters vehicle creation", domain.BalancePerVehiclesPerMonth, domain.ActionVehicleCreate, true},
		{"per_vehicles ignores mission creation", domain.BalancePerVehiclesPerMonth, domain.ActionMissionCreate, false},
		{"unknown type meters nothing", domain.BalanceType("free"), domain.ActionMissionCreate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.balanceType.Gates(tt.action))
		})
	}
}
