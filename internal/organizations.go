package internal

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"courier-console-api/internal/models"
	"courier-console-api/internal/subscription"
)

// Organization counts are correlated subqueries so the list stays one
// round trip. Revenue follows the dashboard rule: cancelled and returned
// bookings do not count.
const orgSummarySelect = `
	SELECT o.id, o.name, o.plan, o.trial_ends_at, o.created_at, o.updated_at,
		(SELECT COUNT(*) FROM users u WHERE u.org_id = o.id),
		(SELECT COUNT(*) FROM bookings b WHERE b.org_id = o.id),
		(SELECT COUNT(*) FROM warehouses wh WHERE wh.org_id = o.id),
		(SELECT COALESCE(SUM(b.amount), 0) FROM bookings b
			WHERE b.org_id = o.id AND b.status NOT IN ('cancelled', 'returned'))`

func (s *Server) scanOrgSummary(row rowScanner, extra ...any) (models.OrganizationSummary, error) {
	var o models.OrganizationSummary
	var trialEndsAt sql.NullTime
	dest := []any{
		&o.ID, &o.Name, &o.Plan, &trialEndsAt, &o.CreatedAt, &o.UpdatedAt,
		&o.Users, &o.Bookings, &o.Warehouses, &o.Revenue,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return o, err
	}
	var ends *time.Time
	if trialEndsAt.Valid {
		ends = &trialEndsAt.Time
		o.TrialEndsAt = ends
	}
	o.Subscription = subscription.Evaluate(o.Plan, ends, s.Now())
	return o, nil
}

// adminListOrganizations handles GET /admin/organizations
func (s *Server) adminListOrganizations(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)

	var f filter
	if params.q != "" {
		f.add("o.name ILIKE $%[1]d", "%"+params.q+"%")
	}
	if v := strings.TrimSpace(r.URL.Query().Get("plan")); v != "" {
		if !subscription.ValidPlan(v) {
			s.fail(w, r, subscription.ErrUnknownPlan, "filter")
			return
		}
		f.add("o.plan = $%[1]d", v)
	}

	query := orgSummarySelect + `, COUNT(*) OVER() FROM organizations o` + f.where() +
		buildOrderBy(params.sort, map[string]string{
			"id": "o.id", "name": "o.name", "plan": "o.plan",
			"trial_ends_at": "o.trial_ends_at", "created_at": "o.created_at",
		}) + params.limitClause()

	rows, err := s.DB.QueryContext(r.Context(), query, f.args...)
	if err != nil {
		s.fail(w, r, err, "organizations")
		return
	}
	defer rows.Close()

	var orgs []models.OrganizationSummary
	var total int
	for rows.Next() {
		o, err := s.scanOrgSummary(rows, &total)
		if err != nil {
			s.fail(w, r, err, "organizations")
			return
		}
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "organizations")
		return
	}
	sendListResponse(w, orgs, total, params)
}

// adminGetOrganization handles GET /admin/organizations/{id}
func (s *Server) adminGetOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := s.scanOrgSummary(s.DB.QueryRowContext(r.Context(), orgSummarySelect+` FROM organizations o WHERE o.id = $1`, id))
	if err != nil {
		s.fail(w, r, err, "organization")
		return
	}
	writeJSON(w, http.StatusOK, o)
}
