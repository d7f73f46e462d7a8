package internal

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"courier-console-api/internal/auth"
	"courier-console-api/internal/billing"
	"courier-console-api/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, email, first_name, last_name, phone, org_id, roles, is_active,
	commission_rate, created_at, updated_at, last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads userColumns followed by any extra destinations.
func scanUser(row rowScanner, extra ...any) (models.User, error) {
	var user models.User
	var firstName, lastName, phone sql.NullString
	var lastLoginAt sql.NullTime
	var roles pq.StringArray

	dest := []any{
		&user.ID, &user.Email, &firstName, &lastName, &phone, &user.OrgID, &roles, &user.IsActive,
		&user.CommissionRate, &user.CreatedAt, &user.UpdatedAt, &lastLoginAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return user, err
	}

	// Set optional fields
	if firstName.Valid {
		user.FirstName = &firstName.String
	}
	if lastName.Valid {
		user.LastName = &lastName.String
	}
	if phone.Valid {
		user.Phone = &phone.String
	}
	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}
	user.Roles = roles
	return user, nil
}

// createUser handles user creation with multi-tenant logic
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" || len(req.Roles) == 0 {
		writeError(w, http.StatusBadRequest, "Email, password, and roles are required", "VALIDATION_ERROR")
		return
	}
	if len(req.Password) < models.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters", "WEAK_PASSWORD")
		return
	}
	if !auth.ValidateRoles(req.Roles) {
		writeError(w, http.StatusBadRequest, "Invalid roles provided", "INVALID_ROLES")
		return
	}
	rate := decimal.Zero
	if req.CommissionRate != nil {
		if err := billing.ValidateRate(*req.CommissionRate); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		rate = *req.CommissionRate
	}

	targetOrgID := auth.GetTargetOrgID(r.Context(), req.OrgID)
	if !auth.CanManageOrg(r.Context(), targetOrgID) {
		writeError(w, http.StatusForbidden, "Cannot create users for this organization", "FORBIDDEN_ORG")
		return
	}
	// Only owners hand out the owner role.
	if containsRole(req.Roles, auth.RoleOwner) && !auth.ClaimsFromContext(r.Context()).HasRole(auth.RoleOwner, auth.RoleSuperAdmin) {
		writeError(w, http.StatusForbidden, "Only owners can grant the owner role", "INSUFFICIENT_PERMISSIONS")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.fail(w, r, err, "password")
		return
	}

	user, err := scanUser(s.db(r.Context()).QueryRowContext(r.Context(), `
		INSERT INTO users (email, password_hash, first_name, last_name, phone, org_id, roles, commission_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		req.Email, string(hashedPassword), req.FirstName, req.LastName, req.Phone,
		targetOrgID, pq.Array(req.Roles), rate))
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusCreated, user.Redacted())
}

// listUsers lists the users of the caller's organization
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)

	var f filter
	f.add("org_id = $%[1]d", auth.OrgIDFromContext(r.Context()))
	if params.q != "" {
		f.add("(email ILIKE $%[1]d OR first_name ILIKE $%[1]d OR last_name ILIKE $%[1]d)", "%"+params.q+"%")
	}
	if v := r.URL.Query().Get("role"); v != "" {
		f.add("$%[1]d = ANY(roles)", v)
	}
	if v := r.URL.Query().Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "is_active must be true or false", "VALIDATION_ERROR")
			return
		}
		f.add("is_active = $%[1]d", active)
	}

	query := `SELECT ` + userColumns + `, COUNT(*) OVER() FROM users` + f.where() +
		buildOrderBy(params.sort, map[string]string{
			"id": "id", "email": "email", "created_at": "created_at", "last_login_at": "last_login_at",
		}) + params.limitClause()

	rows, err := s.db(r.Context()).QueryContext(r.Context(), query, f.args...)
	if err != nil {
		s.fail(w, r, err, "users")
		return
	}
	defer rows.Close()

	var users []models.User
	var total int
	for rows.Next() {
		user, err := scanUser(rows, &total)
		if err != nil {
			s.fail(w, r, err, "users")
			return
		}
		users = append(users, user.Redacted())
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "users")
		return
	}
	sendListResponse(w, users, total, params)
}

// getUser handles getting a specific user
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := scanUser(s.db(r.Context()).QueryRowContext(r.Context(),
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND org_id = $2`,
		id, auth.OrgIDFromContext(r.Context())))
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, user.Redacted())
}

// updateUser handles user updates within the caller's organization
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateUserRequest
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
	if req.Roles != nil {
		if !auth.ValidateRoles(req.Roles) {
			writeError(w, http.StatusBadRequest, "Invalid roles provided", "INVALID_ROLES")
			return
		}
		if containsRole(req.Roles, auth.RoleOwner) && !auth.ClaimsFromContext(r.Context()).HasRole(auth.RoleOwner, auth.RoleSuperAdmin) {
			writeError(w, http.StatusForbidden, "Only owners can grant the owner role", "INSUFFICIENT_PERMISSIONS")
			return
		}
		sets.add("roles", pq.Array(req.Roles))
	}
	if req.IsActive != nil {
		if !*req.IsActive && id == auth.UserIDFromContext(r.Context()) {
			writeError(w, http.StatusBadRequest, "You cannot deactivate yourself", "SELF_DEACTIVATION")
			return
		}
		sets.add("is_active", *req.IsActive)
	}
	if req.CommissionRate != nil {
		if err := billing.ValidateRate(*req.CommissionRate); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		sets.add("commission_rate", *req.CommissionRate)
	}
	if sets.empty() {
		writeError(w, http.StatusBadRequest, "No fields to update", "NO_FIELDS")
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	demotes := (req.Roles != nil && !containsRole(req.Roles, auth.RoleOwner)) || (req.IsActive != nil && !*req.IsActive)

	var user models.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if demotes {
			if err := guardOwner(ctx, tx, orgID, id, auth.ClaimsFromContext(ctx)); err != nil {
				return err
			}
		}
		q, args := sets.update("users", id, orgID)
		var err error
		user, err = scanUser(tx.QueryRowContext(ctx, q+" RETURNING "+userColumns, args...))
		return err
	})
	if err != nil {
		s.failOwner(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Redacted())
}

var (
	errOwnerProtected = errors.New("only owners can change another owner's roles or status")
	errLastOwner      = errors.New("the organization must keep at least one active owner")
)

// guardOwner locks the org's active owners in id order. When id is one of
// them it checks that the caller may change it and that another remains.
func guardOwner(ctx context.Context, q querier, orgID, id int64, caller *auth.Claims) error {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM users WHERE org_id = $1 AND roles && ARRAY['owner'] AND is_active = true ORDER BY id FOR UPDATE`,
		orgID)
	if err != nil {
		return err
	}
	defer rows.Close()

	target, others := false, 0
	for rows.Next() {
		var ownerID int64
		if err := rows.Scan(&ownerID); err != nil {
			return err
		}
		if ownerID == id {
			target = true
		} else {
			others++
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !target {
		return nil
	}
	if caller == nil || !caller.HasRole(auth.RoleOwner, auth.RoleSuperAdmin) {
		return errOwnerProtected
	}
	if others == 0 {
		return errLastOwner
	}
	return nil
}

func (s *Server) failOwner(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errOwnerProtected):
		writeError(w, http.StatusForbidden, err.Error(), "INSUFFICIENT_PERMISSIONS")
	case errors.Is(err, errLastOwner):
		writeError(w, http.StatusBadRequest, err.Error(), "LAST_OWNER")
	default:
		s.fail(w, r, err, "user")
	}
}

// deleteUser removes a user, refusing to remove the organization's last owner
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if id == auth.UserIDFromContext(r.Context()) {
		writeError(w, http.StatusBadRequest, "You cannot delete yourself", "SELF_DELETION")
		return
	}
	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := guardOwner(ctx, tx, orgID, id, auth.ClaimsFromContext(ctx)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1 AND org_id = $2`, id, orgID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		s.failOwner(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helper function to check if a role exists in a slice
func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
