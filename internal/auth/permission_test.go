package auth

import "testing"

func TestGrantMatches(t *testing.T) {
	portfolio := &ResourceContext{Type: "portfolio", ID: "PF-123"}
	other := &ResourceContext{Type: "portfolio", ID: "PF-999"}

	cases := []struct {
		name       string
		grant      string
		permission string
		rc         *ResourceContext
		want       bool
	}{
		{"universal matches anything", "*", "trade.execute", nil, true},
		{"universal matches unknown category", "*", "made.up", nil, true},
		{"universal matches with context", "*", "portfolio.manage", portfolio, true},

		{"category wildcard matches same category", "trade.*", "trade.execute", nil, true},
		{"category wildcard matches any action", "trade.*", "trade.approve", nil, true},
		{"category wildcard rejects other category", "trade.*", "portfolio.view", nil, false},
		{"category wildcard rejects bare category", "trade.*", "trade", nil, false},

		{"exact match", "trade.execute", "trade.execute", nil, true},
		{"exact mismatch", "trade.execute", "trade.approve", nil, false},
		{"exact grant ignores supplied context", "portfolio.view", "portfolio.view", portfolio, true},

		{"scoped grant matches same resource", "portfolio.manage:portfolio:PF-123", "portfolio.manage", portfolio, true},
		{"scoped grant rejects other resource", "portfolio.manage:portfolio:PF-123", "portfolio.manage", other, false},
		{"scoped grant rejects missing context", "portfolio.manage:portfolio:PF-123", "portfolio.manage", nil, false},
		{"scoped grant rejects other permission", "portfolio.manage:portfolio:PF-123", "portfolio.view", portfolio, false},

		{"unknown shape falls back to exact", "weird", "weird", nil, true},
		{"unknown shape never widens", "weird", "weird.thing", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := ParseGrant(tc.grant)
			if got := g.Matches(tc.permission, tc.rc); got != tc.want {
				t.Fatalf("grant %q match %q (ctx %v) = %v, want %v", tc.grant, tc.permission, tc.rc, got, tc.want)
			}
		})
	}
}

func TestParseGrantPreservesExternalForm(t *testing.T) {
	for _, raw := range []string{"*", "trade.*", "trade.execute", "portfolio.manage:portfolio:PF-123"} {
		if got := ParseGrant(raw).String(); got != raw {
			t.Fatalf("ParseGrant(%q).String() = %q", raw, got)
		}
	}
}

func TestParseGrantsSkipsEmptyEntries(t *testing.T) {
	grants := ParseGrants([]string{"trade.execute", "", "  ", "portfolio.*"})
	if len(grants) != 2 {
		t.Fatalf("got %d grants, want 2", len(grants))
	}
}

func TestValidatePermissionName(t *testing.T) {
	for _, valid := range []string{"trade.execute", "market.data", "a.b"} {
		if err := ValidatePermissionName(valid); err != nil {
			t.Fatalf("ValidatePermissionName(%q) = %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "trade", ".execute", "trade.", "trade.*", "trade.execute:p:1"} {
		if err := ValidatePermissionName(invalid); err == nil {
			t.Fatalf("ValidatePermissionName(%q) succeeded, want error", invalid)
		}
	}
}
