package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"finnexus.org/internal/ids"
)

const (
	pgErrUniqueViolation = "23505"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) Roles(context.Context) RoleStore                 { return &roleStore{db: s.db} }
func (s *PGStore) Assignments(context.Context) AssignmentStore     { return &assignmentStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore { return &refreshTokenStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, email, username, password_hash, status, failed_logins,
	locked_until, last_login_at, two_factor_enabled, two_factor_secret,
	backup_codes, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	codes, err := encodeBackupCodes(u.BackupCodes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (id, email, username, password_hash, status,
			failed_logins, two_factor_enabled, two_factor_secret, backup_codes)
		values ($1, lower($2), $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.Username, u.PasswordHash, u.Status,
		u.FailedLogins, u.TwoFactorEnabled, u.TwoFactorSecret, codes)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: email already registered", ErrConflict)
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = lower($1)`, strings.TrimSpace(email))
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		username  sql.NullString
		locked    sql.NullTime
		lastLogin sql.NullTime
		codes     []byte
	)
	err := row.Scan(&u.ID, &u.Email, &username, &u.PasswordHash, &u.Status,
		&u.FailedLogins, &locked, &lastLogin, &u.TwoFactorEnabled,
		&u.TwoFactorSecret, &codes, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Username = username.String
	if locked.Valid {
		t := locked.Time
		u.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	backupCodes, err := decodeBackupCodes(codes)
	if err != nil {
		return nil, err
	}
	u.BackupCodes = backupCodes
	return &u, nil
}

func (s *userStore) RecordLoginFailure(ctx context.Context, userID string, failedLogins int, lockedUntil *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update users set failed_logins = $2, locked_until = $3, updated_at = now()
		where id = $1
	`, userID, failedLogins, lockedUntil)
	return err
}

func (s *userStore) RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set failed_logins = 0, locked_until = null,
			last_login_at = $2, updated_at = now()
		where id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	return ensureRowAffected(res)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	// A password change also clears lockout state.
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, failed_logins = 0,
			locked_until = null, updated_at = now()
		where id = $1
	`, userID, passwordHash)
	if err != nil {
		return err
	}
	return ensureRowAffected(res)
}

func (s *userStore) UpdateTwoFactor(ctx context.Context, userID string, enabled bool, secret []byte, backupCodes [][]byte) error {
	codes, err := encodeBackupCodes(backupCodes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update users set two_factor_enabled = $2, two_factor_secret = $3,
			backup_codes = $4, updated_at = now()
		where id = $1
	`, userID, enabled, secret, codes)
	if err != nil {
		return err
	}
	return ensureRowAffected(res)
}

func (s *userStore) UpdateStatus(ctx context.Context, userID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set status = $2, updated_at = now() where id = $1
	`, userID, status)
	if err != nil {
		return err
	}
	return ensureRowAffected(res)
}

func encodeBackupCodes(codes [][]byte) ([]byte, error) {
	if len(codes) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("encode backup codes: %w", err)
	}
	return data, nil
}

func decodeBackupCodes(raw []byte) ([][]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var codes [][]byte
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, fmt.Errorf("decode backup codes: %w", err)
	}
	if len(codes) == 0 {
		return nil, nil
	}
	return codes, nil
}

func ensureRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) Create(ctx context.Context, role *Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into roles (name, display_name, description, permissions, level)
		values ($1, $2, $3, $4, $5)
	`, role.Name, role.DisplayName, role.Description, perms, role.Level)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: role %q already exists", ErrConflict, role.Name)
	}
	return err
}

func (s *roleStore) Find(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select name, display_name, description, permissions, level, created_at, updated_at
		from roles where name = $1
	`, name)
	return scanRole(row.Scan)
}

func (s *roleStore) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select name, display_name, description, permissions, level, created_at, updated_at
		from roles order by level desc, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Role
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

func scanRole(scan func(...any) error) (*Role, error) {
	var (
		role  Role
		perms []byte
	)
	err := scan(&role.Name, &role.DisplayName, &role.Description, &perms,
		&role.Level, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return &role, nil
}

func (s *roleStore) SetPermissions(ctx context.Context, name string, permissions []string) error {
	perms, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		update roles set permissions = $2, updated_at = now() where name = $1
	`, name, perms)
	if err != nil {
		return err
	}
	return ensureRowAffected(res)
}

func (s *roleStore) Ensure(ctx context.Context, roles []*Role) error {
	for _, role := range roles {
		perms, err := json.Marshal(role.Permissions)
		if err != nil {
			return fmt.Errorf("encode permissions: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			insert into roles (name, display_name, description, permissions, level)
			values ($1, $2, $3, $4, $5)
			on conflict (name) do nothing
		`, role.Name, role.DisplayName, role.Description, perms, role.Level)
		if err != nil {
			return fmt.Errorf("ensure role %s: %w", role.Name, err)
		}
	}
	return nil
}

// Assignment store ---------------------------------------------------------

type assignmentStore struct{ db *sql.DB }

func (s *assignmentStore) Create(ctx context.Context, a *RoleAssignment) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	var resType, resID any
	if a.Context != nil {
		resType = a.Context.Type
		resID = a.Context.ID
	}
	_, err := s.db.ExecContext(ctx, `
		insert into role_assignments (id, user_id, role_name, assigned_by,
			assigned_at, resource_type, resource_id, active)
		values ($1, $2, $3, $4, $5, $6, $7, true)
	`, a.ID, a.UserID, a.RoleName, a.AssignedBy, a.AssignedAt, resType, resID)
	return err
}

func (s *assignmentStore) ActiveByUser(ctx context.Context, userID string) ([]*RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, role_name, assigned_by, assigned_at,
			resource_type, resource_id
		from role_assignments
		where user_id = $1 and active
		order by assigned_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RoleAssignment
	for rows.Next() {
		var (
			a       RoleAssignment
			resType sql.NullString
			resID   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleName, &a.AssignedBy,
			&a.AssignedAt, &resType, &resID); err != nil {
			return nil, err
		}
		a.Active = true
		if resType.Valid || resID.Valid {
			a.Context = &ResourceContext{Type: resType.String, ID: resID.String}
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

func (s *assignmentStore) Deactivate(ctx context.Context, userID, roleName, removedBy, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update role_assignments
		set active = false, removed_at = $1, removed_by = $2, removed_reason = $3
		where id = (
			select id from role_assignments
			where user_id = $4 and role_name = $5 and active
			order by assigned_at desc
			limit 1
		)
	`, at, removedBy, reason, userID, roleName)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Refresh token store ------------------------------------------------------

type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt)
	return err
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	var tok RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at
		from refresh_tokens where id = $1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *refreshTokenStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where id = $1`, id)
	return err
}

func (s *refreshTokenStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, userID)
	return err
}
