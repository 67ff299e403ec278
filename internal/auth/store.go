package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the access-control core.
// Implementations map infrastructure errors to the package sentinels.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Assignments(ctx context.Context) AssignmentStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// UserStore manages credential records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// RecordLoginFailure persists the failed-login counter and, when the
	// threshold was crossed, the lockout deadline.
	RecordLoginFailure(ctx context.Context, userID string, failedLogins int, lockedUntil *time.Time) error
	// RecordLoginSuccess clears the failure counter and lockout and stamps
	// the last-login time in one write.
	RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateTwoFactor(ctx context.Context, userID string, enabled bool, secret []byte, backupCodes [][]byte) error
	UpdateStatus(ctx context.Context, userID, status string) error
}

// RoleStore manages the role catalog, keyed by immutable role name.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	SetPermissions(ctx context.Context, name string, permissions []string) error
	// Ensure inserts any of the given roles that do not exist yet. Existing
	// roles are left untouched.
	Ensure(ctx context.Context, roles []*Role) error
}

// AssignmentStore is the durable role-assignment ledger.
type AssignmentStore interface {
	Create(ctx context.Context, a *RoleAssignment) error
	// ActiveByUser returns the user's active assignments, newest first.
	ActiveByUser(ctx context.Context, userID string) ([]*RoleAssignment, error)
	// Deactivate soft-deletes the most recent active assignment matching
	// (userID, roleName). It reports false when none was active.
	Deactivate(ctx context.Context, userID, roleName, removedBy, reason string, at time.Time) (bool, error)
}

// RefreshTokenStore manages the revocable refresh-token records.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Delete removes the record if present. Deleting a missing record is
	// not an error.
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
}
