package main

// Roles the library recognizes. The role comes from configuration, the
// actual user/session handling lives outside this service.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

var _ Authorizer = (*RoleAuthorizer)(nil) // ensure RoleAuthorizer implements Authorizer.

// Authorizer exposes the capabilities of the current user. Implementations
// answer synchronously and a false answer rejects the mutation before any
// network call is made.
type Authorizer interface {
	CanCreate() bool
	CanEdit() bool
	CanDelete() bool
}

// RoleAuthorizer maps a static role name to capabilities.
type RoleAuthorizer struct {
	role string
}

// NewRoleAuthorizer returns an Authorizer for the configured role.
// Unknown roles fall back to read-only.
func NewRoleAuthorizer(role string) *RoleAuthorizer {
	return &RoleAuthorizer{role: role}
}

// CanCreate reports whether the role may add books.
func (ra *RoleAuthorizer) CanCreate() bool {
	return ra.role == RoleAdmin || ra.role == RoleEditor
}

// CanEdit reports whether the role may update books.
func (ra *RoleAuthorizer) CanEdit() bool {
	return ra.role == RoleAdmin || ra.role == RoleEditor
}

// CanDelete reports whether the role may delete books.
func (ra *RoleAuthorizer) CanDelete() bool {
	return ra.role == RoleAdmin
}
