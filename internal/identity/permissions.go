package identity

// Role names. operator_admin is the canonical approver role.
const (
	RolePlatformAdmin = "platform_admin"
	RoleTenantAdmin   = "tenant_admin"
	RoleOperatorAdmin = "operator_admin"
	RoleDispatcher    = "dispatcher"
	RoleOpsReadonly   = "ops_readonly"
)

// Permission keys. Dotted, stable, seeded at build time.
const (
	PermPlanView       = "plan.view"
	PermPlanCreate     = "plan.create"
	PermPlanSolve      = "plan.solve"
	PermPlanPublish    = "plan.publish"
	PermPlanLock       = "plan.lock"
	PermPlanApprove    = "plan.approve"
	PermPlanPin        = "plan.pin"
	PermRepairCreate   = "repair.create"
	PermRepairApply    = "repair.apply"
	PermRepairUndo     = "repair.undo"
	PermAuditView      = "audit.view"
	PermEvidenceView   = "evidence.view"
	PermPortalApprove  = "portal.approve.write"
	PermAdminTenants   = "admin.tenants"
	PermAdminKill      = "admin.killswitch"
	PermMappingResolve = "mapping.resolve"
)

// rolePermissions is the seeded role → permission catalog. Immutable at
// runtime; changing it is a migration.
var rolePermissions = map[string][]string{
	RolePlatformAdmin: nil, // bypasses all checks
	RoleTenantAdmin: {
		PermPlanView, PermPlanCreate, PermPlanSolve, PermPlanPublish,
		PermPlanLock, PermPlanApprove, PermPlanPin,
		PermRepairCreate, PermRepairApply, PermRepairUndo,
		PermAuditView, PermEvidenceView, PermPortalApprove, PermMappingResolve,
	},
	RoleOperatorAdmin: {
		PermPlanView, PermPlanSolve, PermPlanPublish, PermPlanLock,
		PermPlanApprove, PermPlanPin,
		PermRepairCreate, PermRepairApply, PermRepairUndo,
		PermAuditView, PermEvidenceView, PermPortalApprove,
	},
	RoleDispatcher: {
		PermPlanView, PermPlanCreate, PermPlanSolve, PermPlanPin,
		PermRepairCreate, PermMappingResolve,
	},
	RoleOpsReadonly: {
		PermPlanView, PermAuditView, PermEvidenceView,
	},
}

// KnownRole reports whether the role exists in the catalog.
func KnownRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// ResolvePermissions returns the permission set for a role. Pure function
// over the seeded catalog; unknown roles resolve to the empty set.
func ResolvePermissions(role string) map[string]bool {
	perms := make(map[string]bool)
	for _, p := range rolePermissions[role] {
		perms[p] = true
	}
	return perms
}

// ResolveAll unions the permissions of several roles.
func ResolveAll(roles []string) map[string]bool {
	perms := make(map[string]bool)
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			perms[p] = true
		}
	}
	return perms
}

// HasRole is a membership helper over a role slice.
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
