package auth

import "time"

// User statuses. A user is never hard-deleted; deactivation flips the status.
const (
	UserStatusActive   = "active"
	UserStatusPending  = "pending_verification"
	UserStatusInactive = "inactive"
)

// User is the credential record the core authenticates against.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username,omitempty"`
	PasswordHash string     `json:"-"`
	Status       string     `json:"status"`
	FailedLogins int        `json:"-"`
	LockedUntil  *time.Time `json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`

	// TwoFactorSecret and BackupCodes are sealed with the service secret box
	// before they reach storage. Plaintext exists only transiently in memory.
	TwoFactorEnabled bool     `json:"two_factor_enabled"`
	TwoFactorSecret  []byte   `json:"-"`
	BackupCodes      [][]byte `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is a named bundle of permission grants. Level is informational only:
// the decision path never derives access from it.
type Role struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	Level       int       `json:"level"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PermissionDef is a catalog entry describing an atomic capability.
type PermissionDef struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// ResourceContext narrows a permission check to one resource instance.
type ResourceContext struct {
	Type string `json:"resource_type"`
	ID   string `json:"resource_id"`
}

// RoleAssignment links a user to a role. Removal is soft: the record is kept
// with Active=false and re-granting the same role creates a new record.
type RoleAssignment struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	RoleName      string           `json:"role_name"`
	AssignedBy    string           `json:"assigned_by"`
	AssignedAt    time.Time        `json:"assigned_at"`
	Context       *ResourceContext `json:"context,omitempty"`
	Active        bool             `json:"active"`
	RemovedAt     *time.Time       `json:"removed_at,omitempty"`
	RemovedBy     string           `json:"removed_by,omitempty"`
	RemovedReason string           `json:"removed_reason,omitempty"`
}

// RefreshToken is the persisted, revocable half of a session. Only a SHA-256
// hash of the presented token is stored.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the result of a successful authentication or refresh.
type Session struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
	User             *User     `json:"user,omitempty"`
}

// TwoFactorSetup carries enrollment material back to the caller exactly once.
// Neither the secret nor the backup codes are retrievable afterwards.
type TwoFactorSetup struct {
	Secret      string   `json:"secret"`
	QRPayload   string   `json:"qr_payload"`
	BackupCodes []string `json:"backup_codes"`
}

// PermissionSummary is the reporting view of a user's effective grants. The
// universal wildcard is expanded against the known catalog for display; the
// boolean decision path never does this.
type PermissionSummary struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Count       int      `json:"count"`
}
