package internal

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"courier-console-api/internal/auth"
	"courier-console-api/internal/models"
	"courier-console-api/internal/subscription"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// defaultRoles are created for every new organization.
var defaultRoles = []struct {
	name        string
	description string
	permissions []string
}{
	{"Administrator", "Full access to the console", models.Permissions},
	{"Dispatcher", "Creates and moves bookings", []string{"bookings.read", "bookings.write", "warehouses.read"}},
	{"Warehouse Staff", "Receives and ships stock", []string{"warehouses.read", "warehouses.write", "bookings.read"}},
	{"Analyst", "Read-only reporting", []string{"bookings.read", "reports.read", "analytics.read"}},
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// OrgSubscription implements subscription.Lookup.
func (s *Server) OrgSubscription(ctx context.Context, orgID int64) (string, *time.Time, error) {
	var plan string
	var trialEndsAt sql.NullTime
	err := s.db(ctx).QueryRowContext(ctx,
		`SELECT plan, trial_ends_at FROM organizations WHERE id = $1`, orgID).Scan(&plan, &trialEndsAt)
	if err != nil {
		return "", nil, err
	}
	if trialEndsAt.Valid {
		return plan, &trialEndsAt.Time, nil
	}
	return plan, nil, nil
}

func (s *Server) subscriptionStatus(ctx context.Context, orgID int64) (subscription.Status, error) {
	plan, ends, err := s.OrgSubscription(ctx, orgID)
	if err != nil {
		return subscription.Status{}, err
	}
	return subscription.Evaluate(plan, ends, s.Now()), nil
}

// loginUser handles user authentication
func (s *Server) loginUser(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required", "VALIDATION_ERROR")
		return
	}

	// Login runs before any org is known, so it reads users without RLS.
	var passwordHash string
	user, err := scanUser(s.DB.QueryRowContext(r.Context(),
		`SELECT `+userColumns+`, password_hash FROM users WHERE email = $1 AND is_active = true`,
		req.Email), &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS")
		return
	}
	if err != nil {
		s.fail(w, r, err, "login")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS")
		return
	}

	if _, err := s.DB.ExecContext(r.Context(), "UPDATE users SET last_login_at = now() WHERE id = $1", user.ID); err != nil {
		// Log error but don't fail login
		s.Logger.Warn("failed to update last_login_at", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	status, err := s.subscriptionStatus(r.Context(), user.OrgID)
	if err != nil {
		s.fail(w, r, err, "subscription")
		return
	}

	token, err := s.JWTManager.GenerateToken(user.ID, user.OrgID, user.Roles)
	if err != nil {
		s.fail(w, r, err, "token")
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token:        token,
		User:         user.Redacted(),
		Subscription: status,
	})
}

// registerOrganization signs up a business on a trial plan together with
// its owner account.
func (s *Server) registerOrganization(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = normalizeEmail(req.Email)
	req.OrganizationName = strings.TrimSpace(req.OrganizationName)
	if req.OrganizationName == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "organization_name, email and password are required", "VALIDATION_ERROR")
		return
	}
	if len(req.Password) < models.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters", "WEAK_PASSWORD")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.fail(w, r, err, "password")
		return
	}

	trialEndsAt := subscription.TrialEnd(s.Now(), s.Config.TrialDays)
	var user models.User
	err = s.withTx(r.Context(), func(tx *sql.Tx) error {
		var orgID int64
		if err := tx.QueryRowContext(r.Context(),
			`INSERT INTO organizations (name, plan, trial_ends_at) VALUES ($1, $2, $3) RETURNING id`,
			req.OrganizationName, subscription.PlanTrial, trialEndsAt).Scan(&orgID); err != nil {
			return err
		}
		for _, dr := range defaultRoles {
			if _, err := tx.ExecContext(r.Context(),
				`INSERT INTO roles (org_id, name, description, permissions, is_system) VALUES ($1, $2, $3, $4, true)`,
				orgID, dr.name, dr.description, pq.Array(dr.permissions)); err != nil {
				return err
			}
		}
		var err error
		user, err = scanUser(tx.QueryRowContext(r.Context(), `
			INSERT INTO users (email, password_hash, first_name, last_name, phone, org_id, roles)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+userColumns,
			req.Email, string(hash), req.FirstName, req.LastName, req.Phone, orgID, pq.Array([]string{auth.RoleOwner})))
		return err
	})
	if err != nil {
		s.fail(w, r, err, "account")
		return
	}

	token, err := s.JWTManager.GenerateToken(user.ID, user.OrgID, user.Roles)
	if err != nil {
		s.fail(w, r, err, "token")
		return
	}

	s.Logger.Info("organization registered", zap.Int64("org_id", user.OrgID), zap.Int64("user_id", user.ID))
	writeJSON(w, http.StatusCreated, models.LoginResponse{
		Token:        token,
		User:         user.Redacted(),
		Subscription: subscription.Evaluate(subscription.PlanTrial, &trialEndsAt, s.Now()),
	})
}

// getUserProfile handles getting current user's profile
func (s *Server) getUserProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	user, err := scanUser(s.db(r.Context()).QueryRowContext(r.Context(),
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, user.Redacted())
}

// updateUserProfile handles updating current user's profile
func (s *Server) updateUserProfile(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var sets setList
	if req.FirstName != nil {
		sets.add("first_name", req.FirstName)
	}
	if req.LastName != nil {
		sets.add("last_name", req.LastName)
	}
	if req.Phone != nil {
		sets.add("phone", req.Phone)
	}
	if sets.empty() {
		writeError(w, http.StatusBadRequest, "No fields to update", "NO_FIELDS")
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	q, args := sets.update("users", claims.UserID, claims.OrgID)
	user, err := scanUser(s.db(r.Context()).QueryRowContext(r.Context(), q+" RETURNING "+userColumns, args...))
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, user.Redacted())
}

// changePassword handles password changes
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req models.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Current password and new password are required", "VALIDATION_ERROR")
		return
	}
	if len(req.NewPassword) < models.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters", "WEAK_PASSWORD")
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	var currentHash string
	err := s.db(r.Context()).QueryRowContext(r.Context(),
		`SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&currentHash)
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(currentHash), []byte(req.CurrentPassword)); err != nil {
		writeError(w, http.StatusBadRequest, "Current password is incorrect", "INVALID_PASSWORD")
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		s.fail(w, r, err, "password")
		return
	}
	if _, err := s.db(r.Context()).ExecContext(r.Context(),
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, string(newHash), userID); err != nil {
		s.fail(w, r, err, "password")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getSubscription returns the caller's plan and trial countdown
func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	status, err := s.subscriptionStatus(r.Context(), auth.OrgIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err, "subscription")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
