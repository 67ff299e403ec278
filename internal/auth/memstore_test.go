package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the package tests.
type memStore struct {
	mu          sync.Mutex
	users       map[string]*User
	roles       map[string]*Role
	assignments []*RoleAssignment
	tokens      map[string]*RefreshToken

	// failAssignments forces ActiveByUser to error, simulating store loss.
	failAssignments bool
	// failRoles does the same for role lookups.
	failRoles bool
	nextID    int
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]*User),
		roles:  make(map[string]*Role),
		tokens: make(map[string]*RefreshToken),
	}
}

func (s *memStore) Users(context.Context) UserStore                 { return (*memUserStore)(s) }
func (s *memStore) Roles(context.Context) RoleStore                 { return (*memRoleStore)(s) }
func (s *memStore) Assignments(context.Context) AssignmentStore     { return (*memAssignmentStore)(s) }
func (s *memStore) RefreshTokens(context.Context) RefreshTokenStore { return (*memTokenStore)(s) }

func (s *memStore) genID() string {
	s.nextID++
	return fmt.Sprintf("id-%04d", s.nextID)
}

type memUserStore memStore

func (s *memUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == strings.ToLower(u.Email) {
			return fmt.Errorf("%w: email already registered", ErrConflict)
		}
	}
	if u.ID == "" {
		u.ID = (*memStore)(s).genID()
	}
	u.Email = strings.ToLower(u.Email)
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memUserStore) Find(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) RecordLoginFailure(_ context.Context, userID string, failedLogins int, lockedUntil *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLogins = failedLogins
	u.LockedUntil = lockedUntil
	return nil
}

func (s *memUserStore) RecordLoginSuccess(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLogins = 0
	u.LockedUntil = nil
	u.LastLoginAt = &at
	return nil
}

func (s *memUserStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.FailedLogins = 0
	u.LockedUntil = nil
	return nil
}

func (s *memUserStore) UpdateTwoFactor(_ context.Context, userID string, enabled bool, secret []byte, backupCodes [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.TwoFactorEnabled = enabled
	u.TwoFactorSecret = secret
	u.BackupCodes = backupCodes
	return nil
}

func (s *memUserStore) UpdateStatus(_ context.Context, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

type memRoleStore memStore

func (s *memRoleStore) Create(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.Name]; ok {
		return fmt.Errorf("%w: role %q already exists", ErrConflict, role.Name)
	}
	cp := *role
	s.roles[role.Name] = &cp
	return nil
}

func (s *memRoleStore) Find(_ context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRoles {
		return nil, fmt.Errorf("roles unavailable")
	}
	role, ok := s.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (s *memRoleStore) List(_ context.Context) ([]*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Role
	for _, role := range s.roles {
		cp := *role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memRoleStore) SetPermissions(_ context.Context, name string, permissions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[name]
	if !ok {
		return ErrNotFound
	}
	role.Permissions = permissions
	return nil
}

func (s *memRoleStore) Ensure(_ context.Context, roles []*Role) error {
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

type memAssignmentStore memStore

func (s *memAssignmentStore) Create(_ context.Context, a *RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = (*memStore)(s).genID()
	}
	cp := *a
	s.assignments = append(s.assignments, &cp)
	return nil
}

func (s *memAssignmentStore) ActiveByUser(_ context.Context, userID string) ([]*RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAssignments {
		return nil, fmt.Errorf("assignments unavailable")
	}
	var out []*RoleAssignment
	for i := len(s.assignments) - 1; i >= 0; i-- {
		a := s.assignments[i]
		if a.UserID == userID && a.Active {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memAssignmentStore) Deactivate(_ context.Context, userID, roleName, removedBy, reason string, at time.Time) (bool, error) {
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

type memTokenStore memStore

func (s *memTokenStore) Create(_ context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *memTokenStore) Find(_ context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *memTokenStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}

func (s *memTokenStore) DeleteByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tok := range s.tokens {
		if tok.UserID == userID {
			delete(s.tokens, id)
		}
	}
	return nil
}
