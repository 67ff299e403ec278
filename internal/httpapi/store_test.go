package httpapi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"finnexus.org/internal/auth"
)

// fakeStore is a minimal in-memory auth.Store for handler tests.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]*auth.User
	roles       map[string]*auth.Role
	assignments []*auth.RoleAssignment
	tokens      map[string]*auth.RefreshToken
	nextID      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*auth.User),
		roles:  make(map[string]*auth.Role),
		tokens: make(map[string]*auth.RefreshToken),
	}
}

func (s *fakeStore) Users(context.Context) auth.UserStore             { return (*fakeUsers)(s) }
func (s *fakeStore) Roles(context.Context) auth.RoleStore             { return (*fakeRoles)(s) }
func (s *fakeStore) Assignments(context.Context) auth.AssignmentStore { return (*fakeAssignments)(s) }
func (s *fakeStore) RefreshTokens(context.Context) auth.RefreshTokenStore {
	return (*fakeTokens)(s)
}

type fakeUsers fakeStore

func (s *fakeUsers) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == strings.ToLower(u.Email) {
			return fmt.Errorf("%w: email already registered", auth.ErrConflict)
		}
	}
	if u.ID == "" {
		s.nextID++
		u.ID = fmt.Sprintf("user-%03d", s.nextID)
	}
	u.Email = strings.ToLower(u.Email)
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *fakeUsers) Find(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *fakeUsers) RecordLoginFailure(_ context.Context, userID string, failedLogins int, lockedUntil *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.FailedLogins = failedLogins
		u.LockedUntil = lockedUntil
	}
	return nil
}

func (s *fakeUsers) RecordLoginSuccess(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.FailedLogins = 0
		u.LockedUntil = nil
		u.LastLoginAt = &at
	}
	return nil
}

func (s *fakeUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.PasswordHash = passwordHash
		return nil
	}
	return auth.ErrNotFound
}

func (s *fakeUsers) UpdateTwoFactor(_ context.Context, userID string, enabled bool, secret []byte, backupCodes [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.TwoFactorEnabled = enabled
		u.TwoFactorSecret = secret
		u.BackupCodes = backupCodes
		return nil
	}
	return auth.ErrNotFound
}

func (s *fakeUsers) UpdateStatus(_ context.Context, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Status = status
		return nil
	}
	return auth.ErrNotFound
}

type fakeRoles fakeStore

func (s *fakeRoles) Create(_ context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.Name]; ok {
		return fmt.Errorf("%w: role %q already exists", auth.ErrConflict, role.Name)
	}
	cp := *role
	s.roles[role.Name] = &cp
	return nil
}

func (s *fakeRoles) Find(_ context.Context, name string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[name]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (s *fakeRoles) List(_ context.Context) ([]*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.Role
	for _, role := range s.roles {
		cp := *role
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeRoles) SetPermissions(_ context.Context, name string, permissions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[name]
	if !ok {
		return auth.ErrNotFound
	}
	role.Permissions = permissions
	return nil
}

func (s *fakeRoles) Ensure(_ context.Context, roles []*auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range roles {
		if _, ok := s.roles[role.Name]; ok {
			continue
		}
		cp := *role
		s.roles[role.Name] = &cp
	}
	return nil
}

type fakeAssignments fakeStore

func (s *fakeAssignments) Create(_ context.Context, a *auth.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		s.nextID++
		a.ID = fmt.Sprintf("assign-%03d", s.nextID)
	}
	cp := *a
	s.assignments = append(s.assignments, &cp)
	return nil
}

func (s *fakeAssignments) ActiveByUser(_ context.Context, userID string) ([]*auth.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.RoleAssignment
	for i := len(s.assignments) - 1; i >= 0; i-- {
		a := s.assignments[i]
		if a.UserID == userID && a.Active {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeAssignments) Deactivate(_ context.Context, userID, roleName, removedBy, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.assignments) - 1; i >= 0; i-- {
		a := s.assignments[i]
		if a.UserID == userID && a.RoleName == roleName && a.Active {
			a.Active = false
			a.RemovedAt = &at
			a.RemovedBy = removedBy
			a.RemovedReason = reason
			return true, nil
		}
	}
	return false, nil
}

type fakeTokens fakeStore

func (s *fakeTokens) Create(_ context.Context, tok *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *fakeTokens) Find(_ context.Context, id string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *fakeTokens) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}

func (s *fakeTokens) DeleteByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tok := range s.tokens {
		if tok.UserID == userID {
			delete(s.tokens, id)
		}
	}
	return nil
}
