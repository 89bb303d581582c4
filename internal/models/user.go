package models

import "strings"

type UserRole string

// Roles carried in the bearer token's app_metadata.
const (
	RoleUser      UserRole = "user"
	RoleAdmin     UserRole = "admin"
	RoleRecruiter UserRole = "recruiter"
	RoleService   UserRole = "service"
)

// IsStaff reports whether role may act on sessions it does not own.
func IsStaff(role string) bool {
	switch UserRole(strings.ToLower(strings.TrimSpace(role))) {
	case RoleAdmin, RoleRecruiter:
		return true
	}
	return false
}
