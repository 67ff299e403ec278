package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPGStore(db), mock
}

func userRows(t *testing.T, u *User) *sqlmock.Rows {
	t.Helper()
	codes, err := json.Marshal(u.BackupCodes)
	if err != nil {
		t.Fatalf("marshal backup codes: %v", err)
	}
	return sqlmock.NewRows([]string{
		"id", "email", "username", "password_hash", "status", "failed_logins",
		"locked_until", "last_login_at", "two_factor_enabled", "two_factor_secret",
		"backup_codes", "created_at", "updated_at",
	}).AddRow(u.ID, u.Email, u.Username, u.PasswordHash, u.Status, u.FailedLogins,
		u.LockedUntil, u.LastLoginAt, u.TwoFactorEnabled, u.TwoFactorSecret,
		codes, u.CreatedAt, u.UpdatedAt)
}

func TestPGUserFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	want := &User{
		ID:           "u-1",
		Email:        "alice@example.com",
		Username:     "alice",
		PasswordHash: "$2a$10$hash",
		Status:       UserStatusActive,
		BackupCodes:  [][]byte{[]byte("sealed-1")},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	mock.ExpectQuery("select .* from users where email = lower").
		WithArgs("alice@example.com").
		WillReturnRows(userRows(t, want))

	got, err := store.Users(context.Background()).FindByEmail(context.Background(), " alice@example.com ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if got.ID != want.ID || got.Email != want.Email || got.Status != want.Status {
		t.Fatalf("got %+v", got)
	}
	if len(got.BackupCodes) != 1 || string(got.BackupCodes[0]) != "sealed-1" {
		t.Fatalf("backup codes = %v", got.BackupCodes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGUserFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from users where id =").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Users(context.Background()).Find(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGUserCreateConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Users(context.Background()).Create(context.Background(), &User{
		ID: "u-1", Email: "alice@example.com", PasswordHash: "hash", Status: UserStatusActive,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGRoleCreateConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into roles").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Roles(context.Background()).Create(context.Background(), &Role{Name: "trader"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate role: %v", err)
	}
}

func TestPGRoleFindDecodesPermissions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select name, display_name, description, permissions, level").
		WithArgs("trader").
		WillReturnRows(sqlmock.NewRows([]string{
			"name", "display_name", "description", "permissions", "level", "created_at", "updated_at",
		}).AddRow("trader", "Trader", "", []byte(`["trade.execute","market.data"]`), 60, now, now))

	role, err := store.Roles(context.Background()).Find(context.Background(), "trader")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(role.Permissions) != 2 || role.Permissions[0] != "trade.execute" {
		t.Fatalf("permissions = %v", role.Permissions)
	}
}

func TestPGAssignmentDeactivateReportsNoOp(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec("update role_assignments").
		WithArgs(at, "admin-1", "offboarding", "u-1", "trader").
		WillReturnResult(sqlmock.NewResult(0, 1))
	removed, err := store.Assignments(context.Background()).
		Deactivate(context.Background(), "u-1", "trader", "admin-1", "offboarding", at)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if !removed {
		t.Fatal("active assignment reported as no-op")
	}

	mock.ExpectExec("update role_assignments").
		WithArgs(at, "admin-1", "again", "u-1", "trader").
		WillReturnResult(sqlmock.NewResult(0, 0))
	removed, err = store.Assignments(context.Background()).
		Deactivate(context.Background(), "u-1", "trader", "admin-1", "again", at)
	if err != nil {
		t.Fatalf("Deactivate repeat: %v", err)
	}
	if removed {
		t.Fatal("no-op reported as removal")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGRefreshTokenFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select id, user_id, token_hash, expires_at, created_at").
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.RefreshTokens(context.Background()).Find(context.Background(), "jti-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing token: %v", err)
	}
}
