// Package auth carries the verified caller identity and the role rules the
// core checks it against. Token issuance is a thin HS256 JWT layer used by
// devices talking to the authoritative server.
package auth

import (
	"github.com/roach88/shiftsync/internal/apperr"
)

// Role is an employee's permission level.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleEmployee, RoleManager, RoleAdmin:
		return r, nil
	}
	return "", apperr.Validation("role", "must be employee, manager or admin; got %q", s)
}

// Actor is the already-verified identity behind a call.
type Actor struct {
	EmployeeID string `json:"employeeId"`
	Role       Role   `json:"role"`
}

// System is the actor used for work the device does on its own behalf.
var System = Actor{EmployeeID: "system", Role: RoleAdmin}

// IsManager reports whether the actor may manage other employees' data.
func (a Actor) IsManager() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

// RequireManager fails with FORBIDDEN unless the actor is a manager or admin.
func RequireManager(a Actor, action string) error {
	if !a.IsManager() {
		return apperr.Forbidden("%s requires manager or admin role (actor %s is %s)", action, a.EmployeeID, a.Role)
	}
	return nil
}

// RequireSelfOrManager allows an employee to act on their own data and
// managers to act on anyone's.
func RequireSelfOrManager(a Actor, employeeID, action string) error {
	if a.EmployeeID == employeeID || a.IsManager() {
		return nil
	}
	return apperr.Forbidden("%s on employee %s requires manager or admin role", action, employeeID)
}

// RequireAdmin fails with FORBIDDEN unless the actor is an admin.
func RequireAdmin(a Actor, action string) error {
	if a.Role != RoleAdmin {
		return apperr.Forbidden("%s requires admin role", action)
	}
	return nil
}
