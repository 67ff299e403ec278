package auth

import (
	"fmt"
	"strings"
)

// UniversalWildcard grants every permission, registered or not.
const UniversalWildcard = "*"

// Grant is one parsed entry from a role's permission set. The external string
// format is preserved exactly:
//
//	*                                  universal wildcard
//	category.*                         category wildcard
//	category.action                    exact permission
//	category.action:resType:resID      context-scoped permission
type Grant struct {
	raw       string
	universal bool
	category  string
	action    string
	wildcard  bool
	resType   string
	resID     string
}

// ParseGrant parses a raw permission-set entry. Unrecognized shapes degrade
// to exact string matching so unknown entries can never widen access.
func ParseGrant(raw string) Grant {
	raw = strings.TrimSpace(raw)
	g := Grant{raw: raw}
	if raw == UniversalWildcard {
		g.universal = true
		return g
	}
	name := raw
	if idx := strings.Index(raw, ":"); idx >= 0 {
		name = raw[:idx]
		rest := raw[idx+1:]
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) == 2 {
			g.resType = parts[0]
			g.resID = parts[1]
		}
	}
	if category, ok := strings.CutSuffix(name, ".*"); ok {
		g.category = category
		g.wildcard = true
		return g
	}
	if idx := strings.Index(name, "."); idx > 0 {
		g.category = name[:idx]
		g.action = name[idx+1:]
	}
	return g
}

// Matches reports whether this grant covers the requested permission string,
// optionally narrowed to a resource context.
func (g Grant) Matches(permission string, rc *ResourceContext) bool {
	if g.universal {
		return true
	}
	if g.resType != "" || g.resID != "" {
		// Context-scoped entries only match when the caller supplied the
		// same resource instance.
		if rc == nil {
			return false
		}
		return g.name() == permission && g.resType == rc.Type && g.resID == rc.ID
	}
	if g.wildcard {
		return strings.HasPrefix(permission, g.category+".")
	}
	return g.raw == permission
}

func (g Grant) name() string {
	if g.category == "" {
		return g.raw
	}
	return g.category + "." + g.action
}

// String returns the exact external representation of the grant.
func (g Grant) String() string { return g.raw }

// ParseGrants parses a role's full permission set.
func ParseGrants(raw []string) []Grant {
	grants := make([]Grant, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		grants = append(grants, ParseGrant(entry))
	}
	return grants
}

// ValidatePermissionName checks the category.action shape used by the
// permission catalog. Wildcards and context suffixes are not valid here.
func ValidatePermissionName(name string) error {
	name = strings.TrimSpace(name)
	idx := strings.Index(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return fmt.Errorf("%w: permission must be category.action, got %q", ErrInvalidInput, name)
	}
	if strings.ContainsAny(name, ":*") {
		return fmt.Errorf("%w: permission name must not contain wildcards or context, got %q", ErrInvalidInput, name)
	}
	return nil
}

// contextKeyString serializes a resource context for cache keys. The empty
// string stands for "no context".
func contextKeyString(rc *ResourceContext) string {
	if rc == nil {
		return ""
	}
	return rc.Type + ":" + rc.ID
}
