package users

import (
	"errors"
	"time"

	"github.com/stitchline/stitchline-erp/internal/shared"
)

// User is a directory entry. Authentication is handled outside the engine;
// the engine only needs identity, role and activity for assignee selection.
type User struct {
	ID        int64
	Name      string
	Email     string
	Role      shared.Role
	IsActive  bool
	CreatedAt time.Time
}

// ErrNotFound indicates the user does not exist.
var ErrNotFound = errors.New("users: not found")
