package subscription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courier-console-api/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		plan  string
		ends  *time.Time
		state string
		days  int
	}{
		{"paid plan ignores trial end", PlanPro, at(-48 * time.Hour), StateActive, 0},
		{"fresh trial", PlanTrial, at(14 * 24 * time.Hour), StateTrial, 14},
		{"partial day rounds up", PlanTrial, at(90 * time.Minute), StateTrial, 1},
		{"just over a day", PlanTrial, at(25 * time.Hour), StateTrial, 2},
		{"ends exactly now", PlanTrial, at(0), StateExpired, 0},
		{"ended yesterday", PlanTrial, at(-24 * time.Hour), StateExpired, 0},
		{"trial without end date", PlanTrial, nil, StateExpired, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Evaluate(tt.plan, tt.ends, now)
			assert.Equal(t, tt.state, st.State)
			assert.Equal(t, tt.days, st.DaysRemaining)
			assert.Equal(t, tt.plan, st.Plan)
		})
	}
}

func TestExtend(t *testing.T) {
	got, err := Extend(at(48*time.Hour), now, 7)
	require.NoError(t, err)
	assert.Equal(t, now.Add(9*24*time.Hour), got, "running trial extends from its end")

	got, err = Extend(at(-72*time.Hour), now, 7)
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), got, "expired trial extends from now")

	got, err = Extend(nil, now, 1)
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), got)

	_, err = Extend(nil, now, 0)
	assert.ErrorIs(t, err, ErrInvalidExtension)
	_, err = Extend(nil, now, 366)
	assert.ErrorIs(t, err, ErrInvalidExtension)
}

func TestValidPlan(t *testing.T) {
	for _, p := range []string{PlanTrial, PlanBasic, PlanPro, PlanEnterprise} {
		assert.True(t, ValidPlan(p), p)
	}
	assert.False(t, ValidPlan("free"))
}

type fakeLookup struct {
	plan  string
	ends  *time.Time
	err   error
	calls int
}

func (f *fakeLookup) OrgSubscription(ctx context.Context, orgID int64) (string, *time.Time, error) {
	f.calls++
	return f.plan, f.ends, f.err
}

func TestRequireActive(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	clock := func() time.Time { return now }

	tests := []struct {
		name   string
		method string
		roles  []string
		lookup *fakeLookup
		status int
		calls  int
	}{
		{"read on expired trial", http.MethodGet, []string{auth.RoleOwner}, &fakeLookup{plan: PlanTrial, ends: at(-time.Hour)}, http.StatusOK, 0},
		{"write on expired trial", http.MethodPost, []string{auth.RoleOwner}, &fakeLookup{plan: PlanTrial, ends: at(-time.Hour)}, http.StatusPaymentRequired, 1},
		{"write on running trial", http.MethodPatch, []string{auth.RoleOwner}, &fakeLookup{plan: PlanTrial, ends: at(time.Hour)}, http.StatusOK, 1},
		{"write on paid plan", http.MethodDelete, []string{auth.RoleOwner}, &fakeLookup{plan: PlanBasic}, http.StatusOK, 1},
		{"platform admin bypass", http.MethodPut, []string{auth.RoleSuperAdmin}, &fakeLookup{plan: PlanTrial}, http.StatusOK, 0},
		{"lookup failure", http.MethodPost, []string{auth.RoleOwner}, &fakeLookup{err: errors.New("db down")}, http.StatusInternalServerError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/bookings", nil)
			req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{UserID: 1, OrgID: 2, Roles: tt.roles}))
			w := httptest.NewRecorder()

			RequireActive(tt.lookup, clock, zap.NewNop())(ok).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.calls, tt.lookup.calls)
		})
	}
}
