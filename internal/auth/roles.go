package auth

// Default role names. The super role carries the universal wildcard and is
// the short-circuit in the decision path.
const (
	RoleSuperAdmin        = "super_admin"
	RoleAdmin             = "admin"
	RoleComplianceOfficer = "compliance_officer"
	RoleTrader            = "trader"
	RoleAdvisor           = "advisor"
	RoleAnalyst           = "analyst"
	RoleUser              = "user"
	RoleGuest             = "guest"
)

// Permission keys used across the platform.
const (
	PermUserCreate      = "user.create"
	PermUserRead        = "user.read"
	PermUserUpdate      = "user.update"
	PermUserDelete      = "user.delete"
	PermRoleManage      = "role.manage"
	PermRoleAssign      = "role.assign"
	PermTradeExecute    = "trade.execute"
	PermTradeApprove    = "trade.approve"
	PermPortfolioView   = "portfolio.view"
	PermPortfolioManage = "portfolio.manage"
	PermAnalyticsView   = "analytics.view"
	PermAnalyticsExport = "analytics.export"
	PermMarketData      = "market.data"
	PermComplianceView  = "compliance.view"
	PermComplianceAudit = "compliance.audit"
	PermAdvisoryManage  = "advisory.manage"
	PermProfileManage   = "profile.manage"
	PermSystemConfig    = "system.config"
)

// BuiltinPermissions is the seeded permission catalog. The universal wildcard
// expands against this list in the reporting view.
var BuiltinPermissions = []PermissionDef{
	{Name: PermUserCreate, DisplayName: "Create Users", Category: "user"},
	{Name: PermUserRead, DisplayName: "View Users", Category: "user"},
	{Name: PermUserUpdate, DisplayName: "Update Users", Category: "user"},
	{Name: PermUserDelete, DisplayName: "Delete Users", Category: "user"},
	{Name: PermRoleManage, DisplayName: "Manage Roles", Category: "role"},
	{Name: PermRoleAssign, DisplayName: "Assign Roles", Category: "role"},
	{Name: PermTradeExecute, DisplayName: "Execute Trades", Category: "trade"},
	{Name: PermTradeApprove, DisplayName: "Approve Trades", Category: "trade"},
	{Name: PermPortfolioView, DisplayName: "View Portfolios", Category: "portfolio"},
	{Name: PermPortfolioManage, DisplayName: "Manage Portfolios", Category: "portfolio"},
	{Name: PermAnalyticsView, DisplayName: "View Analytics", Category: "analytics"},
	{Name: PermAnalyticsExport, DisplayName: "Export Analytics", Category: "analytics"},
	{Name: PermMarketData, DisplayName: "Market Data Access", Category: "market"},
	{Name: PermComplianceView, DisplayName: "View Compliance Reports", Category: "compliance"},
	{Name: PermComplianceAudit, DisplayName: "Run Compliance Audits", Category: "compliance"},
	{Name: PermAdvisoryManage, DisplayName: "Manage Advisory Sessions", Category: "advisory"},
	{Name: PermProfileManage, DisplayName: "Manage Own Profile", Category: "profile"},
	{Name: PermSystemConfig, DisplayName: "Configure Platform", Category: "system"},
}

// DefaultRoles is the role catalog seeded at startup. Level orders roles for
// display; it carries no inheritance semantics.
func DefaultRoles() []*Role {
	return []*Role{
		{
			Name:        RoleSuperAdmin,
			DisplayName: "Super Administrator",
			Description: "Unrestricted platform access",
			Permissions: []string{UniversalWildcard},
			Level:       100,
		},
		{
			Name:        RoleAdmin,
			DisplayName: "Administrator",
			Description: "User and role administration",
			Permissions: []string{"user.*", "role.*", PermAnalyticsView, PermSystemConfig},
			Level:       90,
		},
		{
			Name:        RoleComplianceOfficer,
			DisplayName: "Compliance Officer",
			Description: "Regulatory oversight and audit trails",
			Permissions: []string{"compliance.*", PermUserRead, PermAnalyticsView, PermPortfolioView},
			Level:       80,
		},
		{
			Name:        RoleTrader,
			DisplayName: "Trader",
			Description: "Trade execution and portfolio management",
			Permissions: []string{PermTradeExecute, PermPortfolioManage, PermAnalyticsView, PermMarketData},
			Level:       60,
		},
		{
			Name:        RoleAdvisor,
			DisplayName: "Financial Advisor",
			Description: "Client advisory and portfolio oversight",
			Permissions: []string{PermAdvisoryManage, PermPortfolioView, PermAnalyticsView, PermMarketData},
			Level:       50,
		},
		{
			Name:        RoleAnalyst,
			DisplayName: "Analyst",
			Description: "Analytics and market research",
			Permissions: []string{"analytics.*", PermMarketData, PermPortfolioView},
			Level:       40,
		},
		{
			Name:        RoleUser,
			DisplayName: "User",
			Description: "Standard platform access",
			Permissions: []string{PermProfileManage, PermPortfolioView, PermMarketData},
			Level:       10,
		},
		{
			Name:        RoleGuest,
			DisplayName: "Guest",
			Description: "Read-only market access",
			Permissions: []string{PermMarketData},
			Level:       0,
		},
	}
}
