package internal

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courier-console-api/internal/analytics"
	"courier-console-api/internal/auth"
	"courier-console-api/internal/billing"
	"courier-console-api/internal/models"
	"courier-console-api/internal/subscription"

	"go.uber.org/zap"
)

// Platform administration spans organizations, so these handlers query
// s.DB directly instead of the request's org-scoped connection.

var adminUserColumns = qualify("u", userColumns) + ", o.name, o.plan, o.trial_ends_at"

var errPaidPlan = errors.New("organization is already on a paid plan")

const adminUserFrom = ` FROM users u JOIN organizations o ON o.id = u.org_id`

func (s *Server) scanAdminUser(row rowScanner, extra ...any) (models.AdminUser, error) {
	var au models.AdminUser
	var plan string
	var trialEndsAt sql.NullTime
	user, err := scanUser(row, append([]any{&au.OrgName, &plan, &trialEndsAt}, extra...)...)
	if err != nil {
		return au, err
	}
	au.User = user.Redacted()
	var ends *time.Time
	if trialEndsAt.Valid {
		ends = &trialEndsAt.Time
	}
	au.Subscription = subscription.Evaluate(plan, ends, s.Now())
	return au, nil
}

func (s *Server) adminUser(ctx context.Context, id int64) (models.AdminUser, error) {
	return s.scanAdminUser(s.DB.QueryRowContext(ctx, `SELECT `+adminUserColumns+adminUserFrom+` WHERE u.id = $1`, id))
}

// adminListUsers handles GET /admin/users
func (s *Server) adminListUsers(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	query := r.URL.Query()

	var f filter
	if params.q != "" {
		f.add("(u.email ILIKE $%[1]d OR u.first_name ILIKE $%[1]d OR u.last_name ILIKE $%[1]d OR o.name ILIKE $%[1]d)", "%"+params.q+"%")
	}
	if v := query.Get("org_id"); v != "" {
		orgID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || orgID <= 0 {
			writeError(w, http.StatusBadRequest, "org_id must be a positive integer", "VALIDATION_ERROR")
			return
		}
		f.add("u.org_id = $%[1]d", orgID)
	}
	if v := query.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "is_active must be true or false", "VALIDATION_ERROR")
			return
		}
		f.add("u.is_active = $%[1]d", active)
	}
	if v := strings.TrimSpace(query.Get("plan")); v != "" {
		if !subscription.ValidPlan(v) {
			s.fail(w, r, subscription.ErrUnknownPlan, "filter")
			return
		}
		f.add("o.plan = $%[1]d", v)
	}

	sqlStr := `SELECT ` + adminUserColumns + `, COUNT(*) OVER()` + adminUserFrom + f.where() +
		buildOrderBy(params.sort, map[string]string{
			"id": "u.id", "email": "u.email", "created_at": "u.created_at",
			"last_login_at": "u.last_login_at", "organization": "o.name",
		}) + params.limitClause()

	rows, err := s.DB.QueryContext(r.Context(), sqlStr, f.args...)
	if err != nil {
		s.fail(w, r, err, "users")
		return
	}
	defer rows.Close()

	var users []models.AdminUser
	var total int
	for rows.Next() {
		au, err := s.scanAdminUser(rows, &total)
		if err != nil {
			s.fail(w, r, err, "users")
			return
		}
		users = append(users, au)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "users")
		return
	}
	sendListResponse(w, users, total, params)
}

// adminGetUser handles GET /admin/users/{id}
func (s *Server) adminGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	au, err := s.adminUser(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, au)
}

// adminSetUserStatus activates or deactivates any console user
func (s *Server) adminSetUserStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UserStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "is_active is required", "VALIDATION_ERROR")
		return
	}
	if !*req.IsActive && id == auth.UserIDFromContext(r.Context()) {
		writeError(w, http.StatusBadRequest, "You cannot deactivate yourself", "SELF_DEACTIVATION")
		return
	}

	s.adminUpdate(w, r, id, `UPDATE users SET is_active = $1, updated_at = now() WHERE id = $2`, *req.IsActive)
	s.Logger.Info("user status changed",
		zap.Int64("user_id", id), zap.Bool("is_active", *req.IsActive),
		zap.Int64("by", auth.UserIDFromContext(r.Context())))
}

// adminSetCommission sets a user's commission rate
func (s *Server) adminSetCommission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.CommissionRateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CommissionRate == nil {
		writeError(w, http.StatusBadRequest, "commission_rate is required", "VALIDATION_ERROR")
		return
	}
	if err := billing.ValidateRate(*req.CommissionRate); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	s.adminUpdate(w, r, id, `UPDATE users SET commission_rate = $1, updated_at = now() WHERE id = $2`, *req.CommissionRate)
}

// adminUpdate runs a single-user UPDATE and answers with the fresh row.
func (s *Server) adminUpdate(w http.ResponseWriter, r *http.Request, id int64, stmt string, value any) {
	res, err := s.DB.ExecContext(r.Context(), stmt, value, id)
	if err == nil {
		if n, _ := res.RowsAffected(); n == 0 {
			err = sql.ErrNoRows
		}
	}
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}
	au, err := s.adminUser(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, au)
}

// adminUpdateTrial extends the trial of the user's organization or moves
// it to a paid plan.
func (s *Server) adminUpdateTrial(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.TrialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if (req.ExtendDays == 0) == (req.Plan == "") {
		writeError(w, http.StatusBadRequest, "Provide either extend_days or plan", "VALIDATION_ERROR")
		return
	}
	if req.Plan != "" && (!subscription.ValidPlan(req.Plan) || req.Plan == subscription.PlanTrial) {
		writeError(w, http.StatusBadRequest, "plan must be basic, pro or enterprise", "INVALID_PLAN")
		return
	}

	ctx := r.Context()
	var orgID int64
	err := s.withPlatformTx(ctx, func(tx *sql.Tx) error {
		var plan string
		var trialEndsAt sql.NullTime
		if err := tx.QueryRowContext(ctx, `
			SELECT o.id, o.plan, o.trial_ends_at
			FROM organizations o JOIN users u ON u.org_id = o.id
			WHERE u.id = $1 FOR UPDATE OF o`, id).Scan(&orgID, &plan, &trialEndsAt); err != nil {
			return err
		}

		if req.Plan != "" {
			_, err := tx.ExecContext(ctx,
				`UPDATE organizations SET plan = $1, trial_ends_at = NULL, updated_at = now() WHERE id = $2`, req.Plan, orgID)
			return err
		}

		if plan != subscription.PlanTrial {
			return errPaidPlan
		}
		var current *time.Time
		if trialEndsAt.Valid {
			current = &trialEndsAt.Time
		}
		ends, err := subscription.Extend(current, s.Now(), req.ExtendDays)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE organizations SET plan = $1, trial_ends_at = $2, updated_at = now() WHERE id = $3`,
			subscription.PlanTrial, ends, orgID)
		return err
	})
	if errors.Is(err, errPaidPlan) {
		writeError(w, http.StatusConflict, err.Error(), "NOT_ON_TRIAL")
		return
	}
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}

	s.Logger.Info("subscription changed",
		zap.Int64("org_id", orgID), zap.String("plan", req.Plan), zap.Int("extend_days", req.ExtendDays),
		zap.Int64("by", auth.UserIDFromContext(ctx)))
	au, err := s.adminUser(ctx, id)
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, au)
}

// withPlatformTx runs fn in a transaction outside any org scope.
func (s *Server) withPlatformTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type userAnalyticsResponse struct {
	User         models.AdminUser    `json:"user"`
	LastLoginAt  *time.Time          `json:"last_login_at"`
	Report       analytics.Report    `json:"report"`
	Commission   billing.Summary     `json:"commission"`
	Subscription subscription.Status `json:"subscription"`
}

// adminUserAnalytics aggregates the bookings a user created, with the
// commission they earned at their own rate.
func (s *Server) adminUserAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	query := r.URL.Query()
	rng, err := analytics.ParseRange(query.Get("from"), query.Get("to"), s.Now())
	if err != nil {
		s.fail(w, r, err, "range")
		return
	}
	g, err := analytics.ParseGranularity(query.Get("granularity"))
	if err != nil {
		s.fail(w, r, err, "range")
		return
	}

	ctx := r.Context()
	au, err := s.adminUser(ctx, id)
	if err != nil {
		s.fail(w, r, err, "user")
		return
	}
	rows, err := fetchAnalyticsRows(ctx, s.DB, au.OrgID, rng, &au.ID)
	if err != nil {
		s.fail(w, r, err, "analytics")
		return
	}

	values := make([]billing.BookingValue, 0, len(rows))
	for _, row := range rows {
		values = append(values, billing.BookingValue{Amount: row.Amount, Status: row.Status})
	}
	writeJSON(w, http.StatusOK, userAnalyticsResponse{
		User:         au,
		LastLoginAt:  au.LastLoginAt,
		Report:       analytics.Build(rows, rng, g),
		Commission:   billing.Summarize(au.CommissionRate, values),
		Subscription: au.Subscription,
	})
}
