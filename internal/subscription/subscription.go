// Package subscription decides whether a business account is in its trial,
// on a paid plan, or locked out because the trial ran out.
package subscription

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	PlanTrial      = "trial"
	PlanBasic      = "basic"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

const (
	StateTrial   = "trial"
	StateActive  = "active"
	StateExpired = "expired"
)

const maxExtensionDays = 365

var (
	ErrUnknownPlan      = errors.New("unknown plan")
	ErrInvalidExtension = fmt.Errorf("extension must be between 1 and %d days", maxExtensionDays)
)

// Status is the computed subscription state shown next to every account.
type Status struct {
	Plan          string     `json:"plan"`
	State         string     `json:"state"`
	DaysRemaining int        `json:"days_remaining"`
	TrialEndsAt   *time.Time `json:"trial_ends_at,omitempty"`
}

func (s Status) Expired() bool { return s.State == StateExpired }

func ValidPlan(plan string) bool {
	switch plan {
	case PlanTrial, PlanBasic, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// Evaluate computes the state at now. Paid plans are always active. A trial
// counts partial days as whole ones, so a trial ending in 90 minutes still
// reports one day remaining.
func Evaluate(plan string, trialEndsAt *time.Time, now time.Time) Status {
	st := Status{Plan: plan, TrialEndsAt: trialEndsAt}
	if plan != PlanTrial {
		st.State = StateActive
		return st
	}
	if trialEndsAt == nil || !trialEndsAt.After(now) {
		st.State = StateExpired
		return st
	}
	remaining := trialEndsAt.Sub(now)
	st.State = StateTrial
	st.DaysRemaining = int(math.Ceil(remaining.Hours() / 24))
	return st
}

// TrialEnd returns the end of a fresh trial started at now.
func TrialEnd(now time.Time, days int) time.Time {
	return now.Add(time.Duration(days) * 24 * time.Hour)
}

// Extend pushes a trial end out by days. An already expired trial is
// extended from now rather than from its old end date.
func Extend(trialEndsAt *time.Time, now time.Time, days int) (time.Time, error) {
	if days < 1 || days > maxExtensionDays {
		return time.Time{}, ErrInvalidExtension
	}
	base := now
	if trialEndsAt != nil && trialEndsAt.After(now) {
		base = *trialEndsAt
	}
	return TrialEnd(base, days), nil
}
