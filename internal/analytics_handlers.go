package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"courier-console-api/internal/analytics"
	"courier-console-api/internal/auth"
	"courier-console-api/internal/booking"
	"courier-console-api/internal/models"
	"courier-console-api/internal/report"
	"courier-console-api/internal/subscription"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const recentBookings = 5

// invalidate drops the org's cached analytics. Failures only cost
// freshness, so they are logged and not returned.
func (s *Server) invalidate(ctx context.Context, orgID int64) {
	if err := s.Cache.Invalidate(ctx, orgID); err != nil {
		s.Logger.Warn("analytics cache invalidation failed", zap.Int64("org_id", orgID), zap.Error(err))
	}
}

// cached returns the JSON for key, building and storing it on a miss. The
// cache is best effort: lookup and store errors fall through to build. The
// result is stored under the version seen before building, never a newer one.
func (s *Server) cached(ctx context.Context, orgID int64, key string, build func() (any, error)) ([]byte, error) {
	lookup, err := s.Cache.Get(ctx, orgID, key)
	if err != nil {
		s.Logger.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
	}
	if lookup.Hit {
		s.Metrics.CacheLookup(true)
		return lookup.Data, nil
	}
	s.Metrics.CacheLookup(false)

	v, buildErr := build()
	if buildErr != nil {
		return nil, buildErr
	}
	data, jerr := json.Marshal(v)
	if jerr != nil {
		return nil, jerr
	}
	if err != nil {
		// Version unknown; storing could mask a later invalidation.
		return data, nil
	}
	if err := s.Cache.Set(ctx, orgID, lookup.Version, key, data); err != nil {
		s.Logger.Warn("analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
	return data, nil
}

func writeRawJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// fetchAnalyticsRows loads the booking projection the aggregations work on.
// createdBy narrows the rows to one user's bookings.
func fetchAnalyticsRows(ctx context.Context, q querier, orgID int64, rng analytics.Range, createdBy *int64) ([]analytics.BookingRow, error) {
	var f filter
	f.add("org_id = $%[1]d", orgID)
	f.add("created_at >= $%[1]d", rng.From)
	f.add("created_at < $%[1]d", rng.To)
	if createdBy != nil {
		f.add("created_by = $%[1]d", *createdBy)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, created_at, status, amount, pickup_city, delivery_city, office_account_id
		FROM bookings`+f.where()+` ORDER BY created_at`, f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []analytics.BookingRow
	for rows.Next() {
		var b analytics.BookingRow
		if err := rows.Scan(&b.ID, &b.CreatedAt, &b.Status, &b.Amount, &b.PickupCity, &b.DeliveryCity, &b.OfficeAccountID); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// buildDashboard runs the dashboard queries concurrently, each on its own
// connection.
func (s *Server) buildDashboard(ctx context.Context, orgID int64) (models.Dashboard, error) {
	now := s.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var d models.Dashboard

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.scoped(gctx, func(q querier) error {
			return q.QueryRowContext(gctx, `
				SELECT COUNT(*),
					COALESCE(SUM(amount) FILTER (WHERE status NOT IN ('cancelled', 'returned')), 0),
					COUNT(*) FILTER (WHERE status = 'pending'),
					COUNT(*) FILTER (WHERE status IN ('picked_up', 'in_transit', 'out_for_delivery')),
					COUNT(*) FILTER (WHERE status = 'delivered'),
					COUNT(*) FILTER (WHERE status = 'cancelled'),
					COUNT(*) FILTER (WHERE created_at >= $2)
				FROM bookings WHERE org_id = $1`, orgID, today).Scan(
				&d.Totals.Bookings, &d.Totals.Revenue, &d.Totals.Pending, &d.Totals.InProgress,
				&d.Totals.Delivered, &d.Totals.Cancelled, &d.Totals.TodayBookings)
		})
	})
	g.Go(func() error {
		return s.scoped(gctx, func(q querier) error {
			rows, err := q.QueryContext(gctx,
				`SELECT `+bookingColumns+` FROM bookings WHERE org_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
				orgID, recentBookings)
			if err != nil {
				return err
			}
			defer rows.Close()
			d.RecentBookings = []models.Booking{}
			for rows.Next() {
				b, err := scanBooking(rows)
				if err != nil {
					return err
				}
				d.RecentBookings = append(d.RecentBookings, b)
			}
			return rows.Err()
		})
	})
	g.Go(func() error {
		return s.scoped(gctx, func(q querier) error {
			stats, err := warehouseStats(gctx, q, orgID, nil)
			d.Warehouses = stats
			return err
		})
	})
	g.Go(func() error {
		return s.scoped(gctx, func(q querier) error {
			return q.QueryRowContext(gctx,
				`SELECT COUNT(*) FROM office_accounts WHERE org_id = $1 AND is_active = true`, orgID).Scan(&d.ActiveAgents)
		})
	})
	g.Go(func() error {
		return s.scoped(gctx, func(q querier) error {
			var plan string
			var trialEndsAt sql.NullTime
			if err := q.QueryRowContext(gctx,
				`SELECT plan, trial_ends_at FROM organizations WHERE id = $1`, orgID).Scan(&plan, &trialEndsAt); err != nil {
				return err
			}
			var ends *time.Time
			if trialEndsAt.Valid {
				ends = &trialEndsAt.Time
			}
			d.Subscription = subscription.Evaluate(plan, ends, now)
			return nil
		})
	})

	return d, g.Wait()
}

// getDashboard handles GET /dashboard
func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	key := "dashboard:" + s.Now().UTC().Format("2006-01-02")

	data, err := s.cached(ctx, orgID, key, func() (any, error) {
		return s.buildDashboard(ctx, orgID)
	})
	if err != nil {
		s.fail(w, r, err, "dashboard")
		return
	}
	writeRawJSON(w, data)
}

// analyticsKey names a cached analytics response. Open-ended ranges move
// with the clock, so they are keyed by day.
func analyticsKey(kind, from, to string, g analytics.Granularity, now time.Time) string {
	if to == "" {
		to = "open:" + now.UTC().Format("2006-01-02")
	}
	return fmt.Sprintf("%s:%s:%s:%s", kind, from, to, g)
}

// getAnalytics handles GET /analytics
func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request) {
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
	orgID := auth.OrgIDFromContext(ctx)
	key := analyticsKey("analytics", query.Get("from"), query.Get("to"), g, s.Now())
	data, err := s.cached(ctx, orgID, key, func() (any, error) {
		rows, err := fetchAnalyticsRows(ctx, s.db(ctx), orgID, rng, nil)
		if err != nil {
			return nil, err
		}
		return analytics.Build(rows, rng, g), nil
	})
	if err != nil {
		s.fail(w, r, err, "analytics")
		return
	}
	writeRawJSON(w, data)
}

// getReport handles GET /reports/{type}
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "type")
	if !report.ValidType(kind) {
		writeError(w, http.StatusNotFound, "Unknown report "+kind, "UNKNOWN_REPORT")
		return
	}
	query := r.URL.Query()
	format, err := report.ParseFormat(query.Get("format"))
	if err != nil {
		s.fail(w, r, err, "report")
		return
	}
	rng, err := analytics.ParseRange(query.Get("from"), query.Get("to"), s.Now())
	if err != nil {
		s.fail(w, r, err, "range")
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	q := s.db(ctx)

	var data any
	var table report.Table
	switch kind {
	case report.TypeBookings:
		var f filter
		f.add("org_id = $%[1]d", orgID)
		f.add("created_at >= $%[1]d", rng.From)
		f.add("created_at < $%[1]d", rng.To)
		if v := query.Get("status"); v != "" {
			if !booking.ValidStatus(v) {
				writeError(w, http.StatusBadRequest, "Unknown status "+v, "INVALID_STATUS")
				return
			}
			f.add("status = $%[1]d", v)
		}
		bookings, ferr := s.fetchBookings(r, f, maxExportRows)
		data, table, err = bookings, report.BookingsTable(bookings), ferr
	case report.TypeRevenue:
		g, gerr := analytics.ParseGranularity(query.Get("granularity"))
		if gerr != nil {
			s.fail(w, r, gerr, "range")
			return
		}
		rows, ferr := fetchAnalyticsRows(ctx, q, orgID, rng, nil)
		points := analytics.Series(rows, rng, g)
		data, table, err = points, report.RevenueTable(points), ferr
	case report.TypeAgents:
		entries, lerr := leaderboard(ctx, q, orgID, rng)
		data, table, err = entries, report.AgentsTable(entries), lerr
	case report.TypeWarehouses:
		stats, serr := warehouseStats(ctx, q, orgID, nil)
		data, table, err = stats, report.WarehousesTable(stats), serr
	}
	if err != nil {
		s.fail(w, r, err, "report")
		return
	}

	if format == report.FormatJSON {
		writeJSON(w, http.StatusOK, map[string]any{
			"type":  kind,
			"range": rng,
			"data":  data,
		})
		return
	}
	s.writeTable(w, r, table, format)
}
