package reserved_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dispatchd/dispatch-backend/pkg/reserved"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "main", reserved.Normalize("  Main "))
	assert.Equal(t, "companyadmin", reserved.Normalize("CompanyAdmin"))
	assert.Equal(t, "", reserved.Normalize("   "))
}

func TestIsMainBranch(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"lowercase", "main", true},
		{"mixed case", "Main", true},
		{"padded", "  MAIN  ", true},
		{"other branch", "north depot", false},
		{"prefix only", "mainline", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reserved.IsMainBranch(tt.in))
		})
	}
}

func TestIsCompanyAdminRole(t *testing.T) {
	assert.True(t, reserved.IsCompanyAdminRole("companyAdmin"))
	assert.True(t, reserved.IsCompanyAdminRole("COMPANYADMIN"))
	assert.True(t, reserved.IsCompanyAdminRole(" companyadmin "))
	assert.False(t, reserved.IsCompanyAdminRole("dispatcher"))
	assert.False(t, reserved.IsCompanyAdminRole("admin"))
}

func TestIsForbiddenUsername(t *testing.T) {
	for _, name := range []string{"admin", "Administrator", "ROOT", " superadmin ", "system", "support"} {
		assert.True(t, reserved.IsForbiddenUsername(name), name)
	}
	for _, name := range []string{"alice", "admin2", "rooter", ""} {
		assert.False(t, reserved.IsForbiddenUsername(name), name)
	}
}
