package internal

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"courier-console-api/internal/analytics"
	"courier-console-api/internal/auth"
	"courier-console-api/internal/billing"
	"courier-console-api/internal/models"

	"github.com/shopspring/decimal"
)

const officeAccountColumns = `id, org_id, user_id, name, email, phone, city, commission_rate, is_active,
	created_at, updated_at`

func scanOfficeAccount(row rowScanner, extra ...any) (models.OfficeAccount, error) {
	var a models.OfficeAccount
	dest := []any{
		&a.ID, &a.OrgID, &a.UserID, &a.Name, &a.Email, &a.Phone, &a.City, &a.CommissionRate, &a.IsActive,
		&a.CreatedAt, &a.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return a, err
}

var errForeignUser = errors.New("user belongs to another organization")

// checkOrgUser verifies userID is a member of orgID.
func checkOrgUser(ctx context.Context, q querier, orgID, userID int64) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND org_id = $2)`, userID, orgID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return errForeignUser
	}
	return nil
}

// listOfficeAccounts handles GET /office-accounts
func (s *Server) listOfficeAccounts(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)

	var f filter
	f.add("org_id = $%[1]d", auth.OrgIDFromContext(r.Context()))
	if params.q != "" {
		f.add("(name ILIKE $%[1]d OR email ILIKE $%[1]d OR city ILIKE $%[1]d)", "%"+params.q+"%")
	}
	if v := strings.TrimSpace(r.URL.Query().Get("city")); v != "" {
		f.add("city ILIKE $%[1]d", v)
	}
	if v := r.URL.Query().Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "is_active must be true or false", "VALIDATION_ERROR")
			return
		}
		f.add("is_active = $%[1]d", active)
	}

	query := `SELECT ` + officeAccountColumns + `, COUNT(*) OVER() FROM office_accounts` + f.where() +
		buildOrderBy(params.sort, map[string]string{
			"id": "id", "name": "name", "city": "city", "commission_rate": "commission_rate", "created_at": "created_at",
		}) + params.limitClause()

	rows, err := s.db(r.Context()).QueryContext(r.Context(), query, f.args...)
	if err != nil {
		s.fail(w, r, err, "office accounts")
		return
	}
	defer rows.Close()

	var accounts []models.OfficeAccount
	var total int
	for rows.Next() {
		a, err := scanOfficeAccount(rows, &total)
		if err != nil {
			s.fail(w, r, err, "office accounts")
			return
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "office accounts")
		return
	}
	sendListResponse(w, accounts, total, params)
}

// createOfficeAccount handles POST /office-accounts
func (s *Server) createOfficeAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOfficeAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "name and email are required", "VALIDATION_ERROR")
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

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	q := s.db(ctx)
	if req.UserID != nil {
		if err := checkOrgUser(ctx, q, orgID, *req.UserID); err != nil {
			s.failLink(w, r, err)
			return
		}
	}

	a, err := scanOfficeAccount(q.QueryRowContext(ctx, `
		INSERT INTO office_accounts (org_id, user_id, name, email, phone, city, commission_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+officeAccountColumns,
		orgID, req.UserID, req.Name, req.Email, req.Phone, req.City, rate))
	if err != nil {
		s.fail(w, r, err, "office account")
		return
	}
	s.invalidate(ctx, orgID)
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) failLink(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errForeignUser) {
		writeError(w, http.StatusBadRequest, "user_id is not a member of this organization", "INVALID_USER")
		return
	}
	s.fail(w, r, err, "user")
}

func (s *Server) officeAccount(ctx context.Context, q querier, id, orgID int64) (models.OfficeAccount, error) {
	return scanOfficeAccount(q.QueryRowContext(ctx,
		`SELECT `+officeAccountColumns+` FROM office_accounts WHERE id = $1 AND org_id = $2`, id, orgID))
}

// getOfficeAccount handles GET /office-accounts/{id}
func (s *Server) getOfficeAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, err := s.officeAccount(r.Context(), s.db(r.Context()), id, auth.OrgIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err, "office account")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// updateOfficeAccount handles PUT /office-accounts/{id}
func (s *Server) updateOfficeAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateOfficeAccountRequest
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
	if req.City != nil {
		sets.add("city", req.City)
	}
	if req.CommissionRate != nil {
		if err := billing.ValidateRate(*req.CommissionRate); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		sets.add("commission_rate", *req.CommissionRate)
	}
	if req.IsActive != nil {
		sets.add("is_active", *req.IsActive)
	}
	if sets.empty() {
		writeError(w, http.StatusBadRequest, "No fields to update", "NO_FIELDS")
		return
	}

	orgID := auth.OrgIDFromContext(r.Context())
	q, args := sets.update("office_accounts", id, orgID)
	a, err := scanOfficeAccount(s.db(r.Context()).QueryRowContext(r.Context(), q+" RETURNING "+officeAccountColumns, args...))
	if err != nil {
		s.fail(w, r, err, "office account")
		return
	}
	s.invalidate(r.Context(), orgID)
	writeJSON(w, http.StatusOK, a)
}

// deleteOfficeAccount handles DELETE /office-accounts/{id}. Agents with
// bookings are kept for the books and should be deactivated instead.
func (s *Server) deleteOfficeAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	orgID := auth.OrgIDFromContext(r.Context())
	res, err := s.db(r.Context()).ExecContext(r.Context(),
		`DELETE FROM office_accounts WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		s.fail(w, r, err, "office account")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.fail(w, r, sql.ErrNoRows, "office account")
		return
	}
	s.invalidate(r.Context(), orgID)
	w.WriteHeader(http.StatusNoContent)
}

type commissionResponse struct {
	OfficeAccountID int64           `json:"office_account_id"`
	Name            string          `json:"name"`
	Range           analytics.Range `json:"range"`
	billing.Summary
}

// agentCommission handles GET /office-accounts/{id}/commission
func (s *Server) agentCommission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rng, err := analytics.ParseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"), s.Now())
	if err != nil {
		s.fail(w, r, err, "range")
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	q := s.db(ctx)
	a, err := s.officeAccount(ctx, q, id, orgID)
	if err != nil {
		s.fail(w, r, err, "office account")
		return
	}

	rows, err := q.QueryContext(ctx, `
		SELECT amount, status FROM bookings
		WHERE org_id = $1 AND office_account_id = $2 AND created_at >= $3 AND created_at < $4`,
		orgID, id, rng.From, rng.To)
	if err != nil {
		s.fail(w, r, err, "bookings")
		return
	}
	defer rows.Close()

	var values []billing.BookingValue
	for rows.Next() {
		var v billing.BookingValue
		if err := rows.Scan(&v.Amount, &v.Status); err != nil {
			s.fail(w, r, err, "bookings")
			return
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "bookings")
		return
	}

	writeJSON(w, http.StatusOK, commissionResponse{
		OfficeAccountID: a.ID,
		Name:            a.Name,
		Range:           rng,
		Summary:         billing.Summarize(a.CommissionRate, values),
	})
}

// leaderboard ranks the org's agents by delivered revenue within rng.
func leaderboard(ctx context.Context, q querier, orgID int64, rng analytics.Range) ([]models.LeaderboardEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT oa.id, oa.name, oa.commission_rate,
			COUNT(b.id),
			COALESCE(SUM(b.amount) FILTER (WHERE b.status = 'delivered'), 0) AS delivered
		FROM office_accounts oa
		LEFT JOIN bookings b ON b.office_account_id = oa.id
			AND b.created_at >= $2 AND b.created_at < $3
		WHERE oa.org_id = $1
		GROUP BY oa.id, oa.name, oa.commission_rate
		ORDER BY delivered DESC, COUNT(b.id) DESC, oa.name, oa.id`,
		orgID, rng.From, rng.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LeaderboardEntry{}
	for rows.Next() {
		var e models.LeaderboardEntry
		var rate decimal.Decimal
		if err := rows.Scan(&e.OfficeAccountID, &e.Name, &rate, &e.Bookings, &e.DeliveredRevenue); err != nil {
			return nil, err
		}
		e.Commission = billing.Commission(e.DeliveredRevenue, rate)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// agentLeaderboard handles GET /office-accounts/leaderboard
func (s *Server) agentLeaderboard(w http.ResponseWriter, r *http.Request) {
	rng, err := analytics.ParseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"), s.Now())
	if err != nil {
		s.fail(w, r, err, "range")
		return
	}
	entries, err := leaderboard(r.Context(), s.db(r.Context()), auth.OrgIDFromContext(r.Context()), rng)
	if err != nil {
		s.fail(w, r, err, "leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
