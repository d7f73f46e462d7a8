package models

import "time"

// Role is a named permission set that team members are assigned to.
type Role struct {
	ID          int64     `json:"id"`
	OrgID       int64     `json:"org_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	IsSystem    bool      `json:"is_system"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RoleRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

const (
	MemberActive   = "active"
	MemberInactive = "inactive"
	MemberInvited  = "invited"
)

type TeamMember struct {
	ID         int64     `json:"id"`
	OrgID      int64     `json:"org_id"`
	UserID     *int64    `json:"user_id,omitempty"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      *string   `json:"phone,omitempty"`
	Department *string   `json:"department,omitempty"`
	RoleID     *int64    `json:"role_id,omitempty"`
	RoleName   *string   `json:"role_name,omitempty"`
	Status     string    `json:"status"`
	JoinedAt   time.Time `json:"joined_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type TeamMemberRequest struct {
	UserID     *int64  `json:"user_id,omitempty"`
	Name       *string `json:"name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Department *string `json:"department,omitempty"`
	RoleID     *int64  `json:"role_id,omitempty"`
	Status     *string `json:"status,omitempty"`
}

// DepartmentCount is one row of the team page's department filter.
type DepartmentCount struct {
	Department string `json:"department"`
	Members    int    `json:"members"`
}

func ValidMemberStatus(s string) bool {
	return s == MemberActive || s == MemberInactive || s == MemberInvited
}

// Permissions recognised by roles.
var Permissions = []string{
	"bookings.read", "bookings.write",
	"warehouses.read", "warehouses.write",
	"team.manage", "agents.manage",
	"reports.read", "analytics.read",
	"billing.manage",
}

// ValidatePermissions returns the first unknown permission, if any.
func ValidatePermissions(perms []string) (string, bool) {
	for _, p := range perms {
		known := false
		for _, k := range Permissions {
			if p == k {
				known = true
				break
			}
		}
		if !known {
			return p, false
		}
	}
	return "", true
}
