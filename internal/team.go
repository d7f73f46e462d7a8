package internal

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"courier-console-api/internal/auth"
	"courier-console-api/internal/models"

	"github.com/lib/pq"
)

var (
	errSystemRole = errors.New("system roles cannot be changed")
	errRoleInUse  = errors.New("role is assigned to team members")
	errNoSuchRole = errors.New("role does not exist in this organization")
)

const roleColumns = `r.id, r.org_id, r.name, r.description, r.permissions, r.is_system,
	(SELECT COUNT(*) FROM team_members t WHERE t.role_id = r.id), r.created_at, r.updated_at`

func scanRole(row rowScanner, extra ...any) (models.Role, error) {
	var role models.Role
	var perms pq.StringArray
	dest := []any{
		&role.ID, &role.OrgID, &role.Name, &role.Description, &perms, &role.IsSystem,
		&role.MemberCount, &role.CreatedAt, &role.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return role, err
	}
	role.Permissions = perms
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	return role, nil
}

func (s *Server) failRole(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errSystemRole):
		writeError(w, http.StatusConflict, err.Error(), "SYSTEM_ROLE")
	case errors.Is(err, errRoleInUse):
		writeError(w, http.StatusConflict, err.Error(), "ROLE_IN_USE")
	default:
		s.fail(w, r, err, "role")
	}
}

func validPermissions(w http.ResponseWriter, perms []string) bool {
	if unknown, ok := models.ValidatePermissions(perms); !ok {
		writeError(w, http.StatusBadRequest, "Unknown permission "+strconv.Quote(unknown), "INVALID_PERMISSION")
		return false
	}
	return true
}

func (s *Server) loadRole(ctx context.Context, q querier, id, orgID int64) (models.Role, error) {
	return scanRole(q.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles r WHERE r.id = $1 AND r.org_id = $2`, id, orgID))
}

// listRoles handles GET /roles
func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db(r.Context()).QueryContext(r.Context(),
		`SELECT `+roleColumns+` FROM roles r WHERE r.org_id = $1 ORDER BY r.is_system DESC, r.name`,
		auth.OrgIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err, "roles")
		return
	}
	defer rows.Close()

	roles := []models.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			s.fail(w, r, err, "roles")
			return
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "roles")
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

// createRole handles POST /roles
func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var req models.RoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", "VALIDATION_ERROR")
		return
	}
	if !validPermissions(w, req.Permissions) {
		return
	}
	perms := req.Permissions
	if perms == nil {
		perms = []string{}
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	q := s.db(ctx)
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO roles (org_id, name, description, permissions) VALUES ($1, $2, $3, $4) RETURNING id`,
		orgID, strings.TrimSpace(*req.Name), req.Description, pq.Array(perms)).Scan(&id)
	if err != nil {
		s.fail(w, r, err, "role")
		return
	}
	role, err := s.loadRole(ctx, q, id, orgID)
	if err != nil {
		s.fail(w, r, err, "role")
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// getRole handles GET /roles/{id}
func (s *Server) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	role, err := s.loadRole(r.Context(), s.db(r.Context()), id, auth.OrgIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err, "role")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// updateRole handles PUT /roles/{id}. System roles are read-only.
func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.RoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var sets setList
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty", "VALIDATION_ERROR")
			return
		}
		sets.add("name", name)
	}
	if req.Description != nil {
		sets.add("description", req.Description)
	}
	if req.Permissions != nil {
		if !validPermissions(w, req.Permissions) {
			return
		}
		sets.add("permissions", pq.Array(req.Permissions))
	}
	if sets.empty() {
		writeError(w, http.StatusBadRequest, "No fields to update", "NO_FIELDS")
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	var role models.Role
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var system bool
		if err := tx.QueryRowContext(ctx,
			`SELECT is_system FROM roles WHERE id = $1 AND org_id = $2 FOR UPDATE`, id, orgID).Scan(&system); err != nil {
			return err
		}
		if system {
			return errSystemRole
		}
		q, args := sets.update("roles", id, orgID)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
		var err error
		role, err = s.loadRole(ctx, tx, id, orgID)
		return err
	})
	if err != nil {
		s.failRole(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// deleteRole handles DELETE /roles/{id}
func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var system bool
		var members int
		if err := tx.QueryRowContext(ctx, `
			SELECT is_system, (SELECT COUNT(*) FROM team_members WHERE role_id = roles.id)
			FROM roles WHERE id = $1 AND org_id = $2 FOR UPDATE`, id, orgID).Scan(&system, &members); err != nil {
			return err
		}
		if system {
			return errSystemRole
		}
		if members > 0 {
			return errRoleInUse
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1 AND org_id = $2`, id, orgID)
		return err
	})
	if err != nil {
		s.failRole(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const memberColumns = `t.id, t.org_id, t.user_id, t.name, t.email, t.phone, t.department, t.role_id, r.name,
	t.status, t.joined_at, t.created_at, t.updated_at`

const memberFrom = ` FROM team_members t LEFT JOIN roles r ON r.id = t.role_id`

func scanMember(row rowScanner, extra ...any) (models.TeamMember, error) {
	var m models.TeamMember
	dest := []any{
		&m.ID, &m.OrgID, &m.UserID, &m.Name, &m.Email, &m.Phone, &m.Department, &m.RoleID, &m.RoleName,
		&m.Status, &m.JoinedAt, &m.CreatedAt, &m.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return m, err
}

func (s *Server) member(ctx context.Context, q querier, id, orgID int64) (models.TeamMember, error) {
	return scanMember(q.QueryRowContext(ctx,
		`SELECT `+memberColumns+memberFrom+` WHERE t.id = $1 AND t.org_id = $2`, id, orgID))
}

func checkOrgRole(ctx context.Context, q querier, orgID, roleID int64) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1 AND org_id = $2)`, roleID, orgID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return errNoSuchRole
	}
	return nil
}

// checkMemberLinks verifies the role and user a member points at belong to orgID.
func (s *Server) checkMemberLinks(w http.ResponseWriter, r *http.Request, orgID int64, req models.TeamMemberRequest) bool {
	ctx := r.Context()
	q := s.db(ctx)
	if req.RoleID != nil {
		if err := checkOrgRole(ctx, q, orgID, *req.RoleID); err != nil {
			if errors.Is(err, errNoSuchRole) {
				writeError(w, http.StatusBadRequest, err.Error(), "INVALID_ROLE")
			} else {
				s.fail(w, r, err, "role")
			}
			return false
		}
	}
	if req.UserID != nil {
		if err := checkOrgUser(ctx, q, orgID, *req.UserID); err != nil {
			s.failLink(w, r, err)
			return false
		}
	}
	return true
}

// listTeamMembers handles GET /team
func (s *Server) listTeamMembers(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	query := r.URL.Query()

	var f filter
	f.add("t.org_id = $%[1]d", auth.OrgIDFromContext(r.Context()))
	if params.q != "" {
		f.add("(t.name ILIKE $%[1]d OR t.email ILIKE $%[1]d)", "%"+params.q+"%")
	}
	if v := strings.TrimSpace(query.Get("department")); v != "" {
		f.add("t.department = $%[1]d", v)
	}
	if v := query.Get("role_id"); v != "" {
		roleID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || roleID <= 0 {
			writeError(w, http.StatusBadRequest, "role_id must be a positive integer", "VALIDATION_ERROR")
			return
		}
		f.add("t.role_id = $%[1]d", roleID)
	}
	if v := strings.TrimSpace(query.Get("status")); v != "" {
		if !models.ValidMemberStatus(v) {
			writeError(w, http.StatusBadRequest, "status must be active, inactive or invited", "INVALID_STATUS")
			return
		}
		f.add("t.status = $%[1]d", v)
	}

	sqlStr := `SELECT ` + memberColumns + `, COUNT(*) OVER()` + memberFrom + f.where() +
		buildOrderBy(params.sort, map[string]string{
			"id": "t.id", "name": "t.name", "department": "t.department", "joined_at": "t.joined_at",
		}) + params.limitClause()

	rows, err := s.db(r.Context()).QueryContext(r.Context(), sqlStr, f.args...)
	if err != nil {
		s.fail(w, r, err, "team members")
		return
	}
	defer rows.Close()

	var members []models.TeamMember
	var total int
	for rows.Next() {
		m, err := scanMember(rows, &total)
		if err != nil {
			s.fail(w, r, err, "team members")
			return
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "team members")
		return
	}
	sendListResponse(w, members, total, params)
}

// createTeamMember handles POST /team
func (s *Server) createTeamMember(w http.ResponseWriter, r *http.Request) {
	var req models.TeamMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" || req.Email == nil || normalizeEmail(*req.Email) == "" {
		writeError(w, http.StatusBadRequest, "name and email are required", "VALIDATION_ERROR")
		return
	}
	status := models.MemberInvited
	if req.Status != nil {
		if !models.ValidMemberStatus(*req.Status) {
			writeError(w, http.StatusBadRequest, "status must be active, inactive or invited", "INVALID_STATUS")
			return
		}
		status = *req.Status
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	if !s.checkMemberLinks(w, r, orgID, req) {
		return
	}

	q := s.db(ctx)
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO team_members (org_id, user_id, name, email, phone, department, role_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		orgID, req.UserID, strings.TrimSpace(*req.Name), normalizeEmail(*req.Email), req.Phone,
		req.Department, req.RoleID, status).Scan(&id)
	if err != nil {
		s.fail(w, r, err, "team member")
		return
	}
	m, err := s.member(ctx, q, id, orgID)
	if err != nil {
		s.fail(w, r, err, "team member")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// getTeamMember handles GET /team/{id}
func (s *Server) getTeamMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := s.member(r.Context(), s.db(r.Context()), id, auth.OrgIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err, "team member")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// updateTeamMember handles PUT /team/{id}
func (s *Server) updateTeamMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.TeamMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var sets setList
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty", "VALIDATION_ERROR")
			return
		}
		sets.add("name", name)
	}
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if email == "" {
			writeError(w, http.StatusBadRequest, "email must not be empty", "VALIDATION_ERROR")
			return
		}
		sets.add("email", email)
	}
	if req.Phone != nil {
		sets.add("phone", req.Phone)
	}
	if req.Department != nil {
		sets.add("department", req.Department)
	}
	if req.Status != nil {
		if !models.ValidMemberStatus(*req.Status) {
			writeError(w, http.StatusBadRequest, "status must be active, inactive or invited", "INVALID_STATUS")
			return
		}
		sets.add("status", *req.Status)
	}
	if req.RoleID != nil {
		sets.add("role_id", *req.RoleID)
	}
	if req.UserID != nil {
		sets.add("user_id", *req.UserID)
	}
	if sets.empty() {
		writeError(w, http.StatusBadRequest, "No fields to update", "NO_FIELDS")
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	if !s.checkMemberLinks(w, r, orgID, req) {
		return
	}

	q := s.db(ctx)
	sqlStr, args := sets.update("team_members", id, orgID)
	res, err := q.ExecContext(ctx, sqlStr, args...)
	if err == nil {
		if n, _ := res.RowsAffected(); n == 0 {
			err = sql.ErrNoRows
		}
	}
	if err != nil {
		s.fail(w, r, err, "team member")
		return
	}
	m, err := s.member(ctx, q, id, orgID)
	if err != nil {
		s.fail(w, r, err, "team member")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// deleteTeamMember handles DELETE /team/{id}
func (s *Server) deleteTeamMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := s.db(r.Context()).ExecContext(r.Context(),
		`DELETE FROM team_members WHERE id = $1 AND org_id = $2`, id, auth.OrgIDFromContext(r.Context()))
	if err == nil {
		if n, _ := res.RowsAffected(); n == 0 {
			err = sql.ErrNoRows
		}
	}
	if err != nil {
		s.fail(w, r, err, "team member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listDepartments handles GET /team/departments
func (s *Server) listDepartments(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db(r.Context()).QueryContext(r.Context(), `
		SELECT department, COUNT(*) FROM team_members
		WHERE org_id = $1 AND department IS NOT NULL AND department <> ''
		GROUP BY department ORDER BY department`, auth.OrgIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err, "departments")
		return
	}
	defer rows.Close()

	departments := []models.DepartmentCount{}
	for rows.Next() {
		var d models.DepartmentCount
		if err := rows.Scan(&d.Department, &d.Members); err != nil {
			s.fail(w, r, err, "departments")
			return
		}
		departments = append(departments, d)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "departments")
		return
	}
	writeJSON(w, http.StatusOK, departments)
}
