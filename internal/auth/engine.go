package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"finnexus.org/internal/audit"
	"finnexus.org/internal/ids"
	"finnexus.org/internal/obs"
)

// Audit event types emitted by the permission engine.
const (
	EventRoleAssigned = "role_assigned"
	EventRoleRemoved  = "role_removed"
	EventRoleCreated  = "role_created"
	EventRoleUpdated  = "role_permissions_updated"
)

const (
	decisionCacheSize   = 8192
	assignmentCacheSize = 1024
	roleCacheSize       = 256
	cacheTTL            = 5 * time.Minute

	// userGenHighWater bounds the per-user generation map; crossing it
	// triggers a prune of entries idle longer than the cache TTL.
	userGenHighWater = 4096
)

// Engine decides whether a user holds a permission, optionally scoped to a
// resource context. Decisions and role lookups are memoized; invalidation is
// generation-based so a revoke is visible to the very next decision.
//
// Cache keys embed a global generation and a per-user generation. Bumping a
// generation (always after the ledger write commits) makes every stale entry
// unreachable; stale entries age out of the LRU on their own. A decision
// being computed concurrently with a revoke lands under the old generation
// and is discarded with it.
type Engine struct {
	store Store
	audit *audit.Recorder
	now   func() time.Time

	genMu     sync.Mutex
	globalGen uint64
	userGen   map[string]userGeneration

	decisions   *lru.LRU[string, bool]
	assignments *lru.LRU[string, []*RoleAssignment]
	roles       *lru.LRU[string, *Role]
}

// NewEngine constructs the permission engine.
func NewEngine(store Store, rec *audit.Recorder) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Engine{
		store:       store,
		audit:       rec,
		now:         time.Now,
		userGen:     make(map[string]userGeneration),
		decisions:   lru.NewLRU[string, bool](decisionCacheSize, nil, cacheTTL),
		assignments: lru.NewLRU[string, []*RoleAssignment](assignmentCacheSize, nil, cacheTTL),
		roles:       lru.NewLRU[string, *Role](roleCacheSize, nil, cacheTTL),
	}, nil
}

// Seed inserts the default role catalog. Roles that already exist are left
// untouched, so operator edits survive restarts.
func (e *Engine) Seed(ctx context.Context) error {
	return e.store.Roles(ctx).Ensure(ctx, DefaultRoles())
}

// userGeneration pairs a per-user counter with the time it was last bumped,
// so idle entries can be pruned.
type userGeneration struct {
	gen    uint64
	bumped time.Time
}

func (e *Engine) generations(userID string) (global, user uint64) {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	return e.globalGen, e.userGen[userID].gen
}

// invalidateUser makes every cached decision and the role list for the user
// unreachable. Called only after the corresponding ledger write committed.
func (e *Engine) invalidateUser(userID string) {
	now := e.now()
	e.genMu.Lock()
	entry := e.userGen[userID]
	entry.gen++
	entry.bumped = now
	e.userGen[userID] = entry
	if len(e.userGen) > userGenHighWater {
		e.pruneGenerationsLocked(now)
	}
	e.genMu.Unlock()
}

// pruneGenerationsLocked drops per-user generation entries idle longer than
// the cache TTL. Dropped counters restart at zero, so the global generation
// is bumped in the same step: every cache entry written before the prune is
// unreachable afterward and a reused counter value cannot match one.
func (e *Engine) pruneGenerationsLocked(now time.Time) {
	cutoff := now.Add(-cacheTTL)
	pruned := false
	for id, entry := range e.userGen {
		if entry.bumped.Before(cutoff) {
			delete(e.userGen, id)
			pruned = true
		}
	}
	if pruned {
		e.globalGen++
	}
}

// invalidateAll drops every cached decision; used when a role's permission
// set changes, since any user holding that role is affected.
func (e *Engine) invalidateAll() {
	e.genMu.Lock()
	e.globalGen++
	e.genMu.Unlock()
}

func decisionKey(global, user uint64, userID, permission, ctxKey string) string {
	return strconv.FormatUint(global, 10) + "|" + strconv.FormatUint(user, 10) + "|" + userID + "|" + permission + "|" + ctxKey
}

func assignmentKey(global, user uint64, userID string) string {
	return strconv.FormatUint(global, 10) + "|" + strconv.FormatUint(user, 10) + "|" + userID
}

func roleKey(global uint64, name string) string {
	return strconv.FormatUint(global, 10) + "|" + name
}

// HasPermission reports whether the user holds the permission. Evaluation is
// a logical OR over the user's active roles, so role order never changes the
// outcome. Any failure to load state denies.
func (e *Engine) HasPermission(ctx context.Context, userID, permission string, rc *ResourceContext) bool {
	userID = strings.TrimSpace(userID)
	permission = strings.TrimSpace(permission)
	if userID == "" || permission == "" {
		return false
	}
	global, userGen := e.generations(userID)
	key := decisionKey(global, userGen, userID, permission, contextKeyString(rc))
	if allowed, ok := e.decisions.Get(key); ok {
		obs.PermissionObserved(allowed, true)
		return allowed
	}

	allowed, cacheable := e.evaluate(ctx, global, userGen, userID, permission, rc)
	if cacheable {
		e.decisions.Add(key, allowed)
	}
	obs.PermissionObserved(allowed, false)
	return allowed
}

// evaluate computes the decision. cacheable is false when the assignment
// ledger or a role could not be read: the deny is correct (fail closed) but
// must not outlive the outage. A role that no longer exists is skipped and
// the decision still caches.
func (e *Engine) evaluate(ctx context.Context, global, userGen uint64, userID, permission string, rc *ResourceContext) (allowed, cacheable bool) {
	assignments, ok := e.userAssignments(ctx, global, userGen, userID)
	if !ok {
		return false, false
	}
	for _, a := range assignments {
		role, err := e.role(ctx, global, a.RoleName)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			obs.Logger().Printf(`{"level":"warn","msg":"load role","role":%q,"error":%q}`, a.RoleName, err.Error())
			return false, false
		}
		if role.Name == RoleSuperAdmin {
			return true, true
		}
		for _, grant := range ParseGrants(role.Permissions) {
			if grant.Matches(permission, rc) {
				return true, true
			}
		}
	}
	return false, true
}

// userAssignments is the cached ledger read. A store failure yields an empty
// list (deny everything) without caching the outage.
func (e *Engine) userAssignments(ctx context.Context, global, userGen uint64, userID string) ([]*RoleAssignment, bool) {
	key := assignmentKey(global, userGen, userID)
	if cached, ok := e.assignments.Get(key); ok {
		return cached, true
	}
	assignments, err := e.store.Assignments(ctx).ActiveByUser(ctx, userID)
	if err != nil {
		obs.Logger().Printf(`{"level":"warn","msg":"load role assignments","user_id":%q,"error":%q}`, userID, err.Error())
		return nil, false
	}
	e.assignments.Add(key, assignments)
	return assignments, true
}

func (e *Engine) role(ctx context.Context, global uint64, name string) (*Role, error) {
	key := roleKey(global, name)
	if cached, ok := e.roles.Get(key); ok {
		return cached, nil
	}
	role, err := e.store.Roles(ctx).Find(ctx, name)
	if err != nil {
		return nil, err
	}
	e.roles.Add(key, role)
	return role, nil
}

// Role returns a role definition by name.
func (e *Engine) Role(ctx context.Context, name string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	global, _ := e.generations("")
	return e.role(ctx, global, name)
}

// Roles lists all role definitions.
func (e *Engine) Roles(ctx context.Context) ([]*Role, error) {
	return e.store.Roles(ctx).List(ctx)
}

// AssignRole grants a role to a user. The role must exist. The user's caches
// are invalidated after the ledger write commits, never before.
func (e *Engine) AssignRole(ctx context.Context, userID, roleName, assignedBy string, rc *ResourceContext) (*RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(roleName)
	if userID == "" || roleName == "" {
		return nil, fmt.Errorf("%w: user_id and role name are required", ErrInvalidInput)
	}
	if _, err := e.store.Roles(ctx).Find(ctx, roleName); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: role %q", ErrNotFound, roleName)
		}
		return nil, err
	}
	assignment := &RoleAssignment{
		ID:         ids.New(),
		UserID:     userID,
		RoleName:   roleName,
		AssignedBy: assignedBy,
		AssignedAt: e.now().UTC(),
		Context:    rc,
		Active:     true,
	}
	if err := e.store.Assignments(ctx).Create(ctx, assignment); err != nil {
		return nil, err
	}
	e.invalidateUser(userID)
	details := map[string]any{"role": roleName}
	if rc != nil {
		details["resource_type"] = rc.Type
		details["resource_id"] = rc.ID
	}
	e.audit.Record(ctx, EventRoleAssigned, assignedBy, userID, details)
	return assignment, nil
}

// RemoveRole soft-deletes the most recent active assignment of the role. It
// reports false when none was active; that is a no-op, not an error.
func (e *Engine) RemoveRole(ctx context.Context, userID, roleName, removedBy, reason string) (bool, error) {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(roleName)
	if userID == "" || roleName == "" {
		return false, fmt.Errorf("%w: user_id and role name are required", ErrInvalidInput)
	}
	removed, err := e.store.Assignments(ctx).Deactivate(ctx, userID, roleName, removedBy, reason, e.now().UTC())
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	e.invalidateUser(userID)
	e.audit.Record(ctx, EventRoleRemoved, removedBy, userID, map[string]any{"role": roleName, "reason": reason})
	return true, nil
}

// CreateRole registers a new role. Role names are permanent: a duplicate is
// a conflict, never an overwrite.
func (e *Engine) CreateRole(ctx context.Context, role *Role, createdBy string) (*Role, error) {
	if role == nil {
		return nil, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if err := validateGrantEntries(role.Permissions); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	if err := e.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	e.audit.Record(ctx, EventRoleCreated, createdBy, "", map[string]any{"role": role.Name})
	return role, nil
}

// UpdateRolePermissions replaces a role's permission set and invalidates the
// global decision cache, since any user holding the role is affected.
func (e *Engine) UpdateRolePermissions(ctx context.Context, roleName string, permissions []string, updatedBy string) error {
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if err := validateGrantEntries(permissions); err != nil {
		return err
	}
	if err := e.store.Roles(ctx).SetPermissions(ctx, roleName, dedupeStrings(permissions)); err != nil {
		return err
	}
	e.invalidateAll()
	e.audit.Record(ctx, EventRoleUpdated, updatedBy, "", map[string]any{"role": roleName})
	return nil
}

// UserRoles returns the user's active assignments (the ledger view).
func (e *Engine) UserRoles(ctx context.Context, userID string) ([]*RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	global, userGen := e.generations(userID)
	assignments, ok := e.userAssignments(ctx, global, userGen, userID)
	if !ok {
		return []*RoleAssignment{}, nil
	}
	return assignments, nil
}

// PermissionsSummary unions the permission sets of the user's active roles
// for reporting. The universal wildcard expands into the full known catalog
// here; the boolean decision path never does this.
func (e *Engine) PermissionsSummary(ctx context.Context, userID string) (*PermissionSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	global, userGen := e.generations(userID)
	assignments, ok := e.userAssignments(ctx, global, userGen, userID)
	if !ok {
		return &PermissionSummary{Roles: []string{}, Permissions: []string{}}, nil
	}

	roleNames := make([]string, 0, len(assignments))
	seenRoles := make(map[string]struct{}, len(assignments))
	perms := make(map[string]struct{})
	for _, a := range assignments {
		if _, ok := seenRoles[a.RoleName]; !ok {
			seenRoles[a.RoleName] = struct{}{}
			roleNames = append(roleNames, a.RoleName)
		}
		role, err := e.role(ctx, global, a.RoleName)
		if err != nil {
			continue
		}
		for _, entry := range role.Permissions {
			if strings.TrimSpace(entry) == UniversalWildcard {
				for _, def := range BuiltinPermissions {
					perms[def.Name] = struct{}{}
				}
				continue
			}
			perms[entry] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(perms))
	for p := range perms {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)
	sort.Strings(roleNames)
	return &PermissionSummary{Roles: roleNames, Permissions: sorted, Count: len(sorted)}, nil
}

func validateGrantEntries(entries []string) error {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return fmt.Errorf("%w: empty permission entry", ErrInvalidInput)
		}
		if entry == UniversalWildcard {
			continue
		}
		name := entry
		if idx := strings.Index(name, ":"); idx >= 0 {
			name = name[:idx]
		}
		if !strings.Contains(name, ".") {
			return fmt.Errorf("%w: permission entry %q must be category.action", ErrInvalidInput, entry)
		}
	}
	return nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
