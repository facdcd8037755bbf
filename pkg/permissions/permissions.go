// Package permissions provides utilities for checking a user's permission
// strings against the permissions a handler requires.
//
// Permission Format:
//   - "resource.action" - specific action (e.g., "mission.create")
//   - Permissions are plain strings; order is preserved everywhere because
//     role authorizations are an ordered sequence in the schema.
package permissions

import "strings"

// HasPermission checks if the user's permissions include the required permission.
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true // No permission required
	}
	for _, p := range userPerms {
		if p == required {
			return true
		}
	}
	return false
}

// HasAllPermissions checks if the user has all of the required permissions.
func HasAllPermissions(userPerms []string, required []string) bool {
	for _, req := range required {
		if !HasPermission(userPerms, req) {
			return false
		}
	}
	return true
}

// HasAnyPermission checks if the user has any of the required permissions.
func HasAnyPermission(userPerms []string, required []string) bool {
	for _, req := range required {
		if HasPermission(userPerms, req) {
			return true
		}
	}
	return false
}

// Normalize converts a raw authorizations value to the canonical ordered
// sequence: entries trimmed, empty entries dropped, original order kept.
// Accepts either a comma-joined string or an already-split slice.
func Normalize(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return normalizeSlice(strings.Split(v, ","))
	case []string:
		return normalizeSlice(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return normalizeSlice(parts)
	default:
		return nil
	}
}

func normalizeSlice(parts []string) []string {
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Merge merges multiple permission sets, removing duplicates while keeping
// first-seen order.
func Merge(sets ...[]string) []string {
	seen := make(map[string]bool)
	var result []string

	for _, set := range sets {
		for _, p := range set {
			if !seen[p] {
				seen[p] = true
				result = append(result, p)
			}
		}
	}

	return result
}

// Catalog is the full list of known permissions. The companyAdmin role of a
// newly registered company is granted every entry.
var Catalog = []string{
	// Branch permissions
	"branch.read",
	"branch.create",
	"branch.update",
	"branch.delete",

	// Role permissions
	"role.read",
	"role.create",
	"role.update",
	"role.delete",

	// User permissions
	"user.read",
	"user.create",
	"user.update",
	"user.delete",

	// Mobile user permissions
	"mobileUser.read",
	"mobileUser.update",
	"mobileUser.block",
	"mobileUser.invite",

	// Driver permissions
	"driver.read",
	"driver.create",
	"driver.update",
	"driver.delete",

	// Vehicle permissions
	"vehicle.read",
	"vehicle.create",
	"vehicle.update",
	"vehicle.delete",

	// Mission permissions
	"mission.read",
	"mission.create",
	"mission.update",
	"mission.delete",

	// Route permissions
	"route.read",
	"route.plan",
	"route.update",
	"route.delete",

	// Balance permissions
	"balance.read",
	"balance.purchase",
}

// DefaultMobilePermissions is granted to every mobile user created through
// invite-code registration.
var DefaultMobilePermissions = []string{
	"mission.read",
	"route.read",
	"vehicle.read",
}
