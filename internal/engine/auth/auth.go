package auth

import (
	"fmt"
	"strings"

	"lettertrack/internal/domain"
)

// ForbiddenError indicates the caller's role may not perform an action.
type ForbiddenError struct {
	Action  string
	Role    domain.Role
	Allowed []domain.Role
}

func (e ForbiddenError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("role %s cannot %s", e.Role, e.Action)
	}
	names := make([]string, 0, len(e.Allowed))
	for _, r := range e.Allowed {
		names = append(names, string(r))
	}
	return fmt.Sprintf("Only %s can perform this action", strings.Join(names, ", "))
}

// AllowedRoleNames returns the allowed roles as plain strings.
func (e ForbiddenError) AllowedRoleNames() []string {
	out := make([]string, 0, len(e.Allowed))
	for _, r := range e.Allowed {
		out = append(out, string(r))
	}
	return out
}

// HasRole reports whether role is one of allowed.
func HasRole(role domain.Role, allowed ...domain.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// RequireRole returns a ForbiddenError unless role is in allowed.
func RequireRole(role domain.Role, action string, allowed ...domain.Role) error {
	if HasRole(role, allowed...) {
		return nil
	}
	return ForbiddenError{Action: action, Role: role, Allowed: allowed}
}

// CanMutateAssignment reports whether the caller may update a task assignment:
// its staff member, the coordinator who created it, or an admin.
func CanMutateAssignment(callerID string, role domain.Role, a domain.TaskAssignment) bool {
	if role == domain.RoleAdmin {
		return true
	}
	return callerID != "" && (callerID == a.StaffID || callerID == a.CoordinatorID)
}

// CanSeeAssignment applies the list visibility rules to a single assignment.
func CanSeeAssignment(callerID string, role domain.Role, a domain.TaskAssignment) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleTU:
		return true
	case domain.RoleStaff:
		return a.StaffID == callerID
	case domain.RoleCoordinator:
		return a.CoordinatorID == callerID
	}
	return false
}
