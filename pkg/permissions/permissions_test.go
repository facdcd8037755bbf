package permissions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dispatchd/dispatch-backend/pkg/permissions"
)

func TestHasPermission(t *testing.T) {
	userPerms := []string{"mission.read", "mission.create", "vehicle.read"}

	tests := []struct {
		name     string
		required string
		want     bool
	}{
		{"has exact permission", "mission.create", true},
		{"missing permission", "mission.delete", false},
		{"empty requirement always passes", "", true},
		{"no partial matching", "mission", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, permissions.HasPermission(userPerms, tt.required))
		})
	}

	t.Run("nil permission set", func(t *testing.T) {
		assert.False(t, permissions.HasPermission(nil, "mission.read"))
		assert.True(t, permissions.HasPermission(nil, ""))
	})
}

func TestHasAllPermissions(t *testing.T) {
	userPerms := []string{"driver.read", "driver.create", "driver.update"}

	assert.True(t, permissions.HasAllPermissions(userPerms, []string{"driver.read", "driver.update"}))
	assert.False(t, permissions.HasAllPermissions(userPerms, []string{"driver.read", "driver.delete"}))
	assert.True(t, permissions.HasAllPermissions(userPerms, nil))
}

func TestHasAnyPermission(t *testing.T) {
	userPerms := []string{"route.read"}

	assert.True(t, permissions.HasAnyPermission(userPerms, []string{"route.plan", "route.read"}))
	assert.False(t, permissions.HasAnyPermission(userPerms, []string{"route.plan", "route.update"}))
	assert.False(t, permissions.HasAnyPermission(userPerms, nil))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []string
	}{
		{"nil", nil, nil},
		{"comma-joined string", "mission.read, route.read ,vehicle.read", []string{"mission.read", "route.read", "vehicle.read"}},
		{"slice with blanks", []string{" mission.read ", "", "  "}, []string{"mission.read"}},
		{"any slice keeps strings only", []any{"mission.read", 42, "route.read"}, []string{"mission.read", "route.read"}},
		{"unsupported type", 7, nil},
		{"order preserved", []string{"b.two", "a.one"}, []string{"b.two", "a.one"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, permissions.Normalize(tt.raw))
		})
	}
}

func TestMerge(t *testing.T) {
	t.Run("deduplicates keeping first-seen order", func(t *testing.T) {
		got := permissions.Merge(
			[]string{"mission.read", "route.read"},
			[]string{"route.read", "vehicle.read"},
		)
		assert.Equal(t, []string{"mission.read", "route.read", "vehicle.read"}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, permissions.Merge())
	})
}

func TestCatalog(t *testing.T) {
	// Every route guard in the handlers must name a cataloged permission.
	for _, p := range []string{
		"branch.read", "branch.create", "branch.update", "branch.delete",
		"role.read", "role.create", "role.update", "role.delete",
		"user.read", "user.create", "user.update", "user.delete",
		"mobileUser.read", "mobileUser.update", "mobileUser.block", "mobileUser.invite",
		"driver.read", "driver.create", "driver.update", "driver.delete",
		"vehicle.read", "vehicle.create", "vehicle.update", "vehicle.delete",
		"mission.read", "mission.create", "mission.update", "mission.delete",
		"route.read", "route.plan", "route.update", "route.delete",
		"balance.read", "balance.purchase",
	} {
		assert.True(t, permissions.HasPermission(permissions.Catalog, p), "missing from catalog: %s", p)
	}

	t.Run("default mobile permissions are cataloged", func(t *testing.T) {
		assert.True(t, permissions.HasAllPermissions(permissions.Catalog, permissions.DefaultMobilePermissions))
	})
}
