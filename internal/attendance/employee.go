package attendance

import (
	"strings"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
)

// Employee is a person who can clock in. Number is the human-facing badge
// number and is unique.
type Employee struct {
	ID        string    `json:"id"`
	Number    string    `json:"employeeNumber"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ValidateEmployee checks required fields. Role values are checked by the
// caller against the auth roles.
func ValidateEmployee(e Employee) error {
	if strings.TrimSpace(e.Number) == "" {
		return apperr.Validation("employeeNumber", "is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return apperr.Validation("name", "is required")
	}
	if e.Role == "" {
		return apperr.Validation("role", "is required")
	}
	return nil
}
