package shared

import "errors"

// Role is the closed set of roles known to the engine.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleManager    Role = "manager"
	RoleShopkeeper Role = "shopkeeper"
	RoleWorker     Role = "worker"
	RoleInvestor   Role = "investor"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleShopkeeper, RoleWorker, RoleInvestor:
		return true
	}
	return false
}

// Elevated reports whether the role may act on behalf of other users,
// e.g. confirm a transfer assigned to someone else.
func (r Role) Elevated() bool {
	return r == RoleOwner || r == RoleManager
}

// ActingUser identifies the user performing an operation. Every mutating
// operation receives it explicitly; the engine never reads ambient
// session state.
type ActingUser struct {
	ID   int64
	Role Role
}

// ErrInvalidActor indicates a missing or malformed acting user.
var ErrInvalidActor = errors.New("shared: acting user required")

// Validate checks the acting user carries an id and a known role.
func (u ActingUser) Validate() error {
	if u.ID == 0 || !u.Role.Valid() {
		return ErrInvalidActor
	}
	return nil
}
