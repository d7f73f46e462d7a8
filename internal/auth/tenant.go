package auth

import "context"

const (
	RoleSuperAdmin = "super_admin"
	RoleOwner      = "owner"
	RoleManager    = "manager"
	RoleOperator   = "operator"
	RoleAgent      = "agent"
	RoleViewer     = "viewer"
)

// ValidRoles lists the roles a console user may hold. super_admin is only
// granted through seeds, never through the API.
var ValidRoles = []string{RoleOwner, RoleManager, RoleOperator, RoleAgent, RoleViewer}

func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

func ValidateRoles(roles []string) bool {
	for _, role := range roles {
		if !IsValidRole(role) {
			return false
		}
	}
	return len(roles) > 0
}

// IsPlatformAdmin reports whether the caller operates the platform itself
// rather than a single business.
func IsPlatformAdmin(ctx context.Context) bool {
	claims := ClaimsFromContext(ctx)
	return claims != nil && claims.HasRole(RoleSuperAdmin)
}

// CanManageOrg reports whether the caller may administer users of orgID.
func CanManageOrg(ctx context.Context, orgID int64) bool {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return false
	}
	if claims.HasRole(RoleSuperAdmin) {
		return true
	}
	return claims.OrgID == orgID && claims.HasRole(RoleOwner, RoleManager)
}

// GetTargetOrgID picks the organization a write applies to: platform admins
// may name one, everyone else acts on their own.
func GetTargetOrgID(ctx context.Context, requested *int64) int64 {
	if requested != nil && *requested > 0 && IsPlatformAdmin(ctx) {
		return *requested
	}
	return OrgIDFromContext(ctx)
}
