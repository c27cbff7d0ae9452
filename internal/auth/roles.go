// Package auth provides authorization types for the platform.
package auth

// Role represents a user role in the system.
type Role string

// System roles - global scope
const (
	RolePlatformAdmin    Role = "platform_admin"    // Full platform access
	RolePlatformOperator Role = "platform_operator" // Operations, monitoring
)

// Tenant roles - clinic scope
const (
	RoleTenantAdmin      Role = "tenant_admin"      // Manage the tenant's program
	RoleAffiliateManager Role = "affiliate_manager" // Manage affiliates, codes, plans
	RoleFinance          Role = "finance"           // Approve, pay, claw back
	RoleReportingViewer  Role = "reporting_viewer"  // Read-only dashboards
)

// Partner roles
const (
	RoleAffiliate Role = "affiliate" // External referral partner, own data only
)

// Permission represents a specific action on a resource.
type Permission string

// Affiliate directory permissions
const (
	PermAffiliateCreate Permission = "affiliate.create"
	PermAffiliateRead   Permission = "affiliate.read"
	PermAffiliateUpdate Permission = "affiliate.update"
	PermCodeCreate      Permission = "code.create"
	PermCodeDeactivate  Permission = "code.deactivate"
)

// Plan and promotion permissions
const (
	PermPlanCreate       Permission = "plan.create"
	PermPlanRead         Permission = "plan.read"
	PermPlanAssign       Permission = "plan.assign"
	PermPromotionManage  Permission = "promotion.manage"
	PermTierRecalculate  Permission = "tier.recalculate"
)

// Ledger permissions
const (
	PermLedgerRead     Permission = "ledger.read"
	PermLedgerClawback Permission = "ledger.clawback"
	PermLedgerPay      Permission = "ledger.pay"
)

// Reporting permissions
const (
	PermReportRead       Permission = "report.read"
	PermReportUnsuppress Permission = "report.unsuppressed" // exact small-slice figures
)

// RolePermissions maps roles to their default permissions.
var RolePermissions = map[Role][]Permission{
	RolePlatformAdmin: {
		PermAffiliateCreate, PermAffiliateRead, PermAffiliateUpdate,
		PermCodeCreate, PermCodeDeactivate,
		PermPlanCreate, PermPlanRead, PermPlanAssign,
		PermPromotionManage, PermTierRecalculate,
		PermLedgerRead, PermLedgerClawback, PermLedgerPay,
		PermReportRead, PermReportUnsuppress,
	},
	RolePlatformOperator: {
		PermAffiliateRead, PermPlanRead, PermLedgerRead, PermReportRead,
	},
	RoleTenantAdmin: {
		PermAffiliateCreate, PermAffiliateRead, PermAffiliateUpdate,
		PermCodeCreate, PermCodeDeactivate,
		PermPlanCreate, PermPlanRead, PermPlanAssign,
		PermPromotionManage, PermTierRecalculate,
		PermLedgerRead, PermLedgerClawback, PermLedgerPay,
		PermReportRead,
	},
	RoleAffiliateManager: {
		PermAffiliateCreate, PermAffiliateRead, PermAffiliateUpdate,
		PermCodeCreate, PermCodeDeactivate,
		PermPlanRead, PermPlanAssign, PermPromotionManage,
		PermLedgerRead, PermReportRead,
	},
	RoleFinance: {
		PermAffiliateRead, PermPlanRead,
		PermLedgerRead, PermLedgerClawback, PermLedgerPay,
		PermReportRead,
	},
	RoleReportingViewer: {
		PermReportRead,
	},
	RoleAffiliate: {
		PermReportRead, // own slices only, enforced at the query layer
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the user has any of the specified roles.
func HasAnyRole(userRoles []Role, requiredRoles ...Role) bool {
	for _, ur := range userRoles {
		for _, rr := range requiredRoles {
			if ur == rr {
				return true
			}
		}
	}
	return false
}
