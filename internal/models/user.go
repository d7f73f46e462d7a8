package models

import (
	"time"

	"courier-console-api/internal/subscription"

	"github.com/shopspring/decimal"
)

// User represents a console login
type User struct {
	ID             int64           `json:"id"`
	Email          string          `json:"email"`
	PasswordHash   string          `json:"-"` // Never expose in JSON
	FirstName      *string         `json:"first_name,omitempty"`
	LastName       *string         `json:"last_name,omitempty"`
	Phone          *string         `json:"phone,omitempty"`
	OrgID          int64           `json:"org_id"`
	Roles          []string        `json:"roles"`
	IsActive       bool            `json:"is_active"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LastLoginAt    *time.Time      `json:"last_login_at,omitempty"`
}

// AdminUser is a user row as the platform admin sees it, with the
// subscription of the business the user belongs to.
type AdminUser struct {
	User
	OrgName      string              `json:"org_name"`
	Subscription subscription.Status `json:"subscription"`
}

type CreateUserRequest struct {
	Email          string           `json:"email"`
	Password       string           `json:"password"`
	FirstName      *string          `json:"first_name,omitempty"`
	LastName       *string          `json:"last_name,omitempty"`
	Phone          *string          `json:"phone,omitempty"`
	OrgID          *int64           `json:"org_id,omitempty"` // platform admins only
	Roles          []string         `json:"roles"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

type UpdateUserRequest struct {
	FirstName      *string          `json:"first_name,omitempty"`
	LastName       *string          `json:"last_name,omitempty"`
	Phone          *string          `json:"phone,omitempty"`
	Roles          []string         `json:"roles,omitempty"`
	IsActive       *bool            `json:"is_active,omitempty"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

// RegisterRequest signs up a new business together with its owner.
type RegisterRequest struct {
	OrganizationName string  `json:"organization_name"`
	Email            string  `json:"email"`
	Password         string  `json:"password"`
	FirstName        *string `json:"first_name,omitempty"`
	LastName         *string `json:"last_name,omitempty"`
	Phone            *string `json:"phone,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token        string              `json:"token"`
	User         User                `json:"user"`
	Subscription subscription.Status `json:"subscription"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type UpdateProfileRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

type UserStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

type CommissionRateRequest struct {
	CommissionRate *decimal.Decimal `json:"commission_rate"`
}

// TrialRequest either extends the trial by ExtendDays or moves the
// business to a paid Plan.
type TrialRequest struct {
	ExtendDays int    `json:"extend_days,omitempty"`
	Plan       string `json:"plan,omitempty"`
}

const MinPasswordLength = 8

func (u *User) HasRole(role string) bool {
	for _, userRole := range u.Roles {
		if userRole == role {
			return true
		}
	}
	return false
}

// DisplayName falls back to the email when no name is on file.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != nil && u.LastName != nil:
		return *u.FirstName + " " + *u.LastName
	case u.FirstName != nil:
		return *u.FirstName
	case u.LastName != nil:
		return *u.LastName
	}
	return u.Email
}

// Redacted returns a copy of the user with sensitive fields removed
func (u *User) Redacted() User {
	out := *u
	out.PasswordHash = ""
	return out
}
