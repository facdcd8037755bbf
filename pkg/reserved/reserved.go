// Package reserved holds the business-level reserved names shared by the
// branch, role and user modules. All checks operate on trimmed, lowercased
// input so "Main", " main " and "MAIN" are the same name.
package reserved

import "strings"

const (
	// MainBranch is the undeletable branch every company is created with.
	MainBranch = "main"

	// CompanyAdminRole is the per-company administrator role. It cannot be
	// created or assumed by non-superadmins.
	CompanyAdminRole = "companyAdmin"
)

// forbiddenUsernames can never be registered through any channel.
var forbiddenUsernames = map[string]struct{}{
	"admin":         {},
	"administrator": {},
	"root":          {},
	"superadmin":    {},
	"system":        {},
	"support":       {},
}

// Normalize trims and lowercases a business name for comparison.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsMainBranch reports whether name is the reserved main branch.
func IsMainBranch(name string) bool {
	return Normalize(name) == MainBranch
}

// IsCompanyAdminRole reports whether name is the reserved company admin role.
// The reserved role name is compared case-insensitively even though it is
// stored in camelCase.
func IsCompanyAdminRole(name string) bool {
	return Normalize(name) == strings.ToLower(CompanyAdminRole)
}

// IsForbiddenUsername reports whether the username may never be registered.
func IsForbiddenUsername(username string) bool {
	_, ok := forbiddenUsernames[Normalize(username)]
	return ok
}
