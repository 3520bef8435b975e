package domain

import "time"

// Principal types.
const (
	PrincipalTypeUser    = "user"
	PrincipalTypeService = "service_principal"
)

// Principal is a user or service account that data-source access is granted to.
type Principal struct {
	ID        string
	Name      string
	Type      string
	IsAdmin   bool
	CreatedAt time.Time
}

// Group is a named set of principals. Membership in one of a data source's
// groups is what grants access to that source.
type Group struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// CreatePrincipalRequest holds parameters for creating a new principal.
type CreatePrincipalRequest struct {
	Name    string
	Type    string // defaults to PrincipalTypeUser
	IsAdmin bool
}

// Validate normalizes the type and checks that the request is well-formed.
func (r *CreatePrincipalRequest) Validate() error {
	if r.Name == "" {
		return ErrValidation("principal name is required")
	}
	switch r.Type {
	case "":
		r.Type = PrincipalTypeUser
	case PrincipalTypeUser, PrincipalTypeService:
	default:
		return ErrValidation("type must be %q or %q", PrincipalTypeUser, PrincipalTypeService)
	}
	return nil
}

// CreateGroupRequest holds parameters for creating a new group.
type CreateGroupRequest struct {
	Name        string
	Description string
}

// Validate checks that the request is well-formed.
func (r *CreateGroupRequest) Validate() error {
	if r.Name == "" {
		return ErrValidation("group name is required")
	}
	return nil
}
