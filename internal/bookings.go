package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"courier-console-api/internal/analytics"
	"courier-console-api/internal/auth"
	"courier-console-api/internal/billing"
	"courier-console-api/internal/booking"
	"courier-console-api/internal/models"
	"courier-console-api/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxBulkIDs       = 500
	maxExportRows    = 10000
	trackingAttempts = 3
)

const bookingColumns = `id, org_id, tracking_number, sender_name, sender_phone, receiver_name, receiver_phone,
	pickup_city, delivery_city, delivery_address, weight_kg, amount, status, office_account_id,
	created_by, created_at, updated_at, delivered_at`

var bookingSorts = map[string]string{
	"id":              "id",
	"created_at":      "created_at",
	"amount":          "amount",
	"status":          "status",
	"tracking_number": "tracking_number",
	"delivered_at":    "delivered_at",
}

var errBookingClosed = errors.New("booking is closed")

func scanBooking(row rowScanner, extra ...any) (models.Booking, error) {
	var b models.Booking
	dest := []any{
		&b.ID, &b.OrgID, &b.TrackingNumber, &b.SenderName, &b.SenderPhone, &b.ReceiverName, &b.ReceiverPhone,
		&b.PickupCity, &b.DeliveryCity, &b.DeliveryAddress, &b.WeightKg, &b.Amount, &b.Status, &b.OfficeAccountID,
		&b.CreatedBy, &b.CreatedAt, &b.UpdatedAt, &b.DeliveredAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return b, err
}

// bookingFilter turns the list query string into WHERE clauses for orgID.
func bookingFilter(r *http.Request, orgID int64) (filter, error) {
	var f filter
	f.add("org_id = $%[1]d", orgID)

	query := r.URL.Query()
	if v := strings.TrimSpace(query.Get("status")); v != "" {
		if !booking.ValidStatus(v) {
			return f, fmt.Errorf("%w: %q", booking.ErrUnknownStatus, v)
		}
		f.add("status = $%[1]d", v)
	}
	if v := strings.TrimSpace(query.Get("city")); v != "" {
		f.add("(pickup_city ILIKE $%[1]d OR delivery_city ILIKE $%[1]d)", v)
	}
	if v := query.Get("office_account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, errors.New("office_account_id must be a positive integer")
		}
		f.add("office_account_id = $%[1]d", id)
	}
	if v := query.Get("from"); v != "" {
		t, err := analytics.ParseBound(v, false)
		if err != nil {
			return f, err
		}
		f.add("created_at >= $%[1]d", t)
	}
	if v := query.Get("to"); v != "" {
		t, err := analytics.ParseBound(v, true)
		if err != nil {
			return f, err
		}
		f.add("created_at < $%[1]d", t)
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		f.add("(tracking_number ILIKE $%[1]d OR sender_name ILIKE $%[1]d OR receiver_name ILIKE $%[1]d)", "%"+q+"%")
	}
	return f, nil
}

// failFilter answers a bad list filter.
func (s *Server) failFilter(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := statusFor(err); status != http.StatusInternalServerError {
		s.fail(w, r, err, "filter")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
}

// listBookings handles GET /bookings
func (s *Server) listBookings(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	f, err := bookingFilter(r, auth.OrgIDFromContext(r.Context()))
	if err != nil {
		s.failFilter(w, r, err)
		return
	}

	query := `SELECT ` + bookingColumns + `, COUNT(*) OVER() FROM bookings` + f.where() +
		buildOrderBy(params.sort, bookingSorts) + params.limitClause()

	rows, err := s.db(r.Context()).QueryContext(r.Context(), query, f.args...)
	if err != nil {
		s.fail(w, r, err, "bookings")
		return
	}
	defer rows.Close()

	var bookings []models.Booking
	var total int
	for rows.Next() {
		b, err := scanBooking(rows, &total)
		if err != nil {
			s.fail(w, r, err, "bookings")
			return
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "bookings")
		return
	}
	sendListResponse(w, bookings, total, params)
}

// createBooking handles POST /bookings
func (s *Server) createBooking(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.SenderName = strings.TrimSpace(req.SenderName)
	req.ReceiverName = strings.TrimSpace(req.ReceiverName)
	req.PickupCity = strings.TrimSpace(req.PickupCity)
	req.DeliveryCity = strings.TrimSpace(req.DeliveryCity)
	if req.SenderName == "" || req.ReceiverName == "" || req.PickupCity == "" || req.DeliveryCity == "" {
		writeError(w, http.StatusBadRequest, "sender_name, receiver_name, pickup_city and delivery_city are required", "VALIDATION_ERROR")
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required", "VALIDATION_ERROR")
		return
	}
	amount, err := billing.ValidateAmount(*req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	weight := decimal.Zero
	if req.WeightKg != nil {
		if req.WeightKg.IsNegative() {
			writeError(w, http.StatusBadRequest, "weight_kg must not be negative", "VALIDATION_ERROR")
			return
		}
		weight = *req.WeightKg
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	userID := auth.UserIDFromContext(ctx)

	var created models.Booking
	for attempt := 1; ; attempt++ {
		tracking := booking.NewTrackingNumber()
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			agentID, err := resolveAgent(r, tx, orgID, userID, req.OfficeAccountID)
			if err != nil {
				return err
			}
			created, err = scanBooking(tx.QueryRowContext(ctx, `
				INSERT INTO bookings (org_id, tracking_number, sender_name, sender_phone, receiver_name, receiver_phone,
					pickup_city, delivery_city, delivery_address, weight_kg, amount, status, office_account_id, created_by)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
				RETURNING `+bookingColumns,
				orgID, tracking, req.SenderName, req.SenderPhone, req.ReceiverName, req.ReceiverPhone,
				req.PickupCity, req.DeliveryCity, req.DeliveryAddress, weight, amount, booking.StatusPending, agentID, userID))
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO booking_events (booking_id, status, note, created_by) VALUES ($1, $2, $3, $4)`,
				created.ID, created.Status, "Booking created", userID)
			return err
		})
		if err == nil || !isTrackingCollision(err) || attempt == trackingAttempts {
			break
		}
	}
	if errors.Is(err, errUnknownAgent) {
		writeError(w, http.StatusBadRequest, "office_account_id does not name an active agent", "INVALID_AGENT")
		return
	}
	if err != nil {
		s.fail(w, r, err, "booking")
		return
	}

	s.Metrics.BookingCreated(created.Status)
	s.invalidate(ctx, orgID)
	writeJSON(w, http.StatusCreated, created)
}

var errUnknownAgent = errors.New("unknown office account")

// resolveAgent checks the requested agent belongs to the org. Agents booking
// for themselves are attached to their own office account.
func resolveAgent(r *http.Request, q querier, orgID, userID int64, requested *int64) (*int64, error) {
	ctx := r.Context()
	if requested != nil {
		var active bool
		err := q.QueryRowContext(ctx,
			`SELECT is_active FROM office_accounts WHERE id = $1 AND org_id = $2`, *requested, orgID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
			return nil, errUnknownAgent
		}
		return requested, err
	}

	claims := auth.ClaimsFromContext(ctx)
	if claims == nil || !claims.HasRole(auth.RoleAgent) {
		return nil, nil
	}
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM office_accounts WHERE user_id = $1 AND org_id = $2 AND is_active = true`, userID, orgID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func isTrackingCollision(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation &&
		strings.Contains(pgErr.ConstraintName, "tracking_number")
}

// getBooking handles GET /bookings/{id}
func (s *Server) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := scanBooking(s.db(r.Context()).QueryRowContext(r.Context(),
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND org_id = $2`,
		id, auth.OrgIDFromContext(r.Context())))
	if err != nil {
		s.fail(w, r, err, "booking")
		return
	}
	writeJSON(w, http.StatusOK, detailFor(r.Context(), b))
}

// bookingDetail is a booking plus the statuses the caller may move it to.
type bookingDetail struct {
	models.Booking
	NextStatuses []string `json:"next_statuses"`
}

func detailFor(ctx context.Context, b models.Booking) bookingDetail {
	d := bookingDetail{Booking: b, NextStatuses: []string{}}
	for _, r := range auth.RolesFromContext(ctx) {
		if r == auth.RoleSuperAdmin || containsRole(bookingWriters, r) {
			d.NextStatuses = append(d.NextStatuses, booking.NextStatuses(b.Status)...)
			break
		}
	}
	return d
}

// updateBooking edits the details of a booking that is still open
func (s *Server) updateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var sets setList
	for _, f := range []struct {
		col string
		val *string
	}{
		{"sender_name", req.SenderName},
		{"receiver_name", req.ReceiverName},
		{"pickup_city", req.PickupCity},
		{"delivery_city", req.DeliveryCity},
	} {
		if f.val == nil {
			continue
		}
		v := strings.TrimSpace(*f.val)
		if v == "" {
			writeError(w, http.StatusBadRequest, f.col+" must not be empty", "VALIDATION_ERROR")
			return
		}
		sets.add(f.col, v)
	}
	if req.SenderPhone != nil {
		sets.add("sender_phone", req.SenderPhone)
	}
	if req.ReceiverPhone != nil {
		sets.add("receiver_phone", req.ReceiverPhone)
	}
	if req.DeliveryAddress != nil {
		sets.add("delivery_address", req.DeliveryAddress)
	}
	if req.WeightKg != nil {
		if req.WeightKg.IsNegative() {
			writeError(w, http.StatusBadRequest, "weight_kg must not be negative", "VALIDATION_ERROR")
			return
		}
		sets.add("weight_kg", *req.WeightKg)
	}
	if req.Amount != nil {
		amount, err := billing.ValidateAmount(*req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		sets.add("amount", amount)
	}
	if sets.empty() && req.OfficeAccountID == nil {
		writeError(w, http.StatusBadRequest, "No fields to update", "NO_FIELDS")
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	var updated models.Booking
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM bookings WHERE id = $1 AND org_id = $2 FOR UPDATE`, id, orgID).Scan(&status); err != nil {
			return err
		}
		if booking.IsTerminal(status) {
			return errBookingClosed
		}
		if req.OfficeAccountID != nil {
			agentID, err := resolveAgent(r, tx, orgID, 0, req.OfficeAccountID)
			if err != nil {
				return err
			}
			sets.add("office_account_id", agentID)
		}
		q, args := sets.update("bookings", id, orgID)
		var err error
		updated, err = scanBooking(tx.QueryRowContext(ctx, q+" RETURNING "+bookingColumns, args...))
		return err
	})
	switch {
	case errors.Is(err, errBookingClosed):
		writeError(w, http.StatusConflict, "Delivered, cancelled and returned bookings cannot be edited", "BOOKING_CLOSED")
		return
	case errors.Is(err, errUnknownAgent):
		writeError(w, http.StatusBadRequest, "office_account_id does not name an active agent", "INVALID_AGENT")
		return
	case err != nil:
		s.fail(w, r, err, "booking")
		return
	}

	s.invalidate(ctx, orgID)
	writeJSON(w, http.StatusOK, updated)
}

// deleteBooking removes a booking that never left the counter
func (s *Server) deleteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	q := s.db(ctx)

	var status string
	if err := q.QueryRowContext(ctx,
		`SELECT status FROM bookings WHERE id = $1 AND org_id = $2`, id, orgID).Scan(&status); err != nil {
		s.fail(w, r, err, "booking")
		return
	}
	if status != booking.StatusPending && status != booking.StatusCancelled {
		writeError(w, http.StatusConflict, "Only pending or cancelled bookings can be deleted", "BOOKING_LOCKED")
		return
	}

	res, err := q.ExecContext(ctx,
		`DELETE FROM bookings WHERE id = $1 AND org_id = $2 AND status IN ('pending', 'cancelled')`, id, orgID)
	if err != nil {
		s.fail(w, r, err, "booking")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusConflict, "Booking changed while deleting", "BOOKING_LOCKED")
		return
	}
	s.invalidate(ctx, orgID)
	w.WriteHeader(http.StatusNoContent)
}

// updateBookingStatus moves a booking one step along its lifecycle
func (s *Server) updateBookingStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.BookingStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if !booking.ValidStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "Unknown status "+strconv.Quote(req.Status), "INVALID_STATUS")
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	userID := auth.UserIDFromContext(ctx)

	var updated models.Booking
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM bookings WHERE id = $1 AND org_id = $2 FOR UPDATE`, id, orgID).Scan(&current); err != nil {
			return err
		}
		if err := booking.Transition(current, req.Status); err != nil {
			return err
		}
		var err error
		updated, err = scanBooking(tx.QueryRowContext(ctx, `
			UPDATE bookings
			SET status = $1,
				delivered_at = CASE WHEN $1 = 'delivered' THEN now() ELSE delivered_at END,
				updated_at = now()
			WHERE id = $2 AND org_id = $3
			RETURNING `+bookingColumns, req.Status, id, orgID))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO booking_events (booking_id, status, note, created_by) VALUES ($1, $2, $3, $4)`,
			id, req.Status, req.Note, userID)
		return err
	})
	if err != nil {
		s.fail(w, r, err, "booking")
		return
	}

	s.Logger.Info("booking status changed",
		zap.Int64("booking_id", id), zap.String("status", updated.Status), zap.Int64("org_id", orgID))
	s.invalidate(ctx, orgID)
	writeJSON(w, http.StatusOK, updated)
}

func scanEvents(rows *sql.Rows) ([]models.BookingEvent, error) {
	defer rows.Close()
	events := []models.BookingEvent{}
	for rows.Next() {
		var e models.BookingEvent
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Status, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const eventsQuery = `SELECT id, booking_id, status, note, created_by, created_at
	FROM booking_events WHERE booking_id = $1 ORDER BY created_at, id`

// listBookingEvents returns the status history of a booking
func (s *Server) listBookingEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	q := s.db(ctx)

	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1 AND org_id = $2)`,
		id, auth.OrgIDFromContext(ctx)).Scan(&exists); err != nil {
		s.fail(w, r, err, "booking")
		return
	}
	if !exists {
		s.fail(w, r, sql.ErrNoRows, "booking")
		return
	}

	rows, err := q.QueryContext(ctx, eventsQuery, id)
	if err != nil {
		s.fail(w, r, err, "booking events")
		return
	}
	events, err := scanEvents(rows)
	if err != nil {
		s.fail(w, r, err, "booking events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// trackBooking is the public tracking page lookup
func (s *Server) trackBooking(w http.ResponseWriter, r *http.Request) {
	tracking := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "tracking")))
	if !booking.ValidTrackingNumber(tracking) {
		writeError(w, http.StatusBadRequest, "Invalid tracking number", "INVALID_TRACKING_NUMBER")
		return
	}

	ctx := r.Context()
	var id int64
	var view models.TrackingView
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, tracking_number, status, pickup_city, delivery_city, created_at, delivered_at
		FROM bookings WHERE tracking_number = $1`, tracking).
		Scan(&id, &view.TrackingNumber, &view.Status, &view.PickupCity, &view.DeliveryCity, &view.CreatedAt, &view.DeliveredAt)
	if err != nil {
		s.fail(w, r, err, "booking")
		return
	}

	rows, err := s.DB.QueryContext(ctx, eventsQuery, id)
	if err != nil {
		s.fail(w, r, err, "booking events")
		return
	}
	events, err := scanEvents(rows)
	if err != nil {
		s.fail(w, r, err, "booking events")
		return
	}
	// The public page shows when things happened, not who did them.
	for i := range events {
		events[i].Note = nil
		events[i].CreatedBy = nil
	}
	view.Events = events
	writeJSON(w, http.StatusOK, view)
}

// bulkIDs validates a bulk selection and drops duplicates, keeping order.
func bulkIDs(w http.ResponseWriter, r *http.Request) ([]int64, bool) {
	var req models.BulkRequest
	if !decodeJSON(w, r, &req) {
		return nil, false
	}
	if len(req.IDs) == 0 || len(req.IDs) > maxBulkIDs {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("ids must hold between 1 and %d bookings", maxBulkIDs), "VALIDATION_ERROR")
		return nil, false
	}
	seen := make(map[int64]bool, len(req.IDs))
	ids := make([]int64, 0, len(req.IDs))
	for _, id := range req.IDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, true
}

// loadSelection fetches the selected bookings of the caller's org, keyed by id.
func (s *Server) loadSelection(r *http.Request, ids []int64) (map[int64]models.Booking, error) {
	rows, err := s.db(r.Context()).QueryContext(r.Context(),
		`SELECT `+bookingColumns+` FROM bookings WHERE org_id = $1 AND id = ANY($2)`,
		auth.OrgIDFromContext(r.Context()), pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[int64]models.Booking, len(ids))
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		found[b.ID] = b
	}
	return found, rows.Err()
}

// buildBulk renders each selected booking in request order. render returns
// a failure reason when a booking cannot be included.
func buildBulk[T any](ids []int64, found map[int64]models.Booking, render func(models.Booking) (T, string)) models.BulkResponse[T] {
	resp := models.BulkResponse[T]{Documents: []T{}, Failures: []models.BulkFailure{}}
	for _, id := range ids {
		b, ok := found[id]
		if !ok {
			resp.Failures = append(resp.Failures, models.BulkFailure{ID: id, Reason: "not found"})
			continue
		}
		doc, reason := render(b)
		if reason != "" {
			resp.Failures = append(resp.Failures, models.BulkFailure{ID: id, Reason: reason})
			continue
		}
		resp.Documents = append(resp.Documents, doc)
	}
	return resp
}

// bulkBills handles POST /bookings/bulk/bills
func (s *Server) bulkBills(w http.ResponseWriter, r *http.Request) {
	ids, ok := bulkIDs(w, r)
	if !ok {
		return
	}
	found, err := s.loadSelection(r, ids)
	if err != nil {
		s.fail(w, r, err, "bookings")
		return
	}
	issued := s.Now().UTC()
	writeJSON(w, http.StatusOK, buildBulk(ids, found, func(b models.Booking) (models.Bill, string) {
		if b.Status == booking.StatusCancelled {
			return models.Bill{}, "booking is cancelled"
		}
		return models.Bill{
			TrackingNumber: b.TrackingNumber,
			IssuedAt:       issued,
			SenderName:     b.SenderName,
			ReceiverName:   b.ReceiverName,
			Route:          b.PickupCity + " → " + b.DeliveryCity,
			WeightKg:       b.WeightKg,
			Amount:         b.Amount,
			Status:         b.Status,
		}, ""
	}))
}

// bulkLabels handles POST /bookings/bulk/labels
func (s *Server) bulkLabels(w http.ResponseWriter, r *http.Request) {
	ids, ok := bulkIDs(w, r)
	if !ok {
		return
	}
	found, err := s.loadSelection(r, ids)
	if err != nil {
		s.fail(w, r, err, "bookings")
		return
	}
	writeJSON(w, http.StatusOK, buildBulk(ids, found, func(b models.Booking) (models.Label, string) {
		if booking.IsTerminal(b.Status) {
			return models.Label{}, "booking is " + b.Status
		}
		return models.Label{
			TrackingNumber:  b.TrackingNumber,
			Barcode:         strings.ReplaceAll(b.TrackingNumber, "-", ""),
			ReceiverName:    b.ReceiverName,
			ReceiverPhone:   b.ReceiverPhone,
			DeliveryCity:    b.DeliveryCity,
			DeliveryAddress: b.DeliveryAddress,
			WeightKg:        b.WeightKg.StringFixed(2),
		}, ""
	}))
}

// fetchBookings returns up to limit bookings matching f, newest first.
func (s *Server) fetchBookings(r *http.Request, f filter, limit int) ([]models.Booking, error) {
	rows, err := s.db(r.Context()).QueryContext(r.Context(),
		`SELECT `+bookingColumns+` FROM bookings`+f.where()+
			fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d", limit), f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// exportBookings streams the filtered bookings as a CSV or XLSX download
func (s *Server) exportBookings(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = report.FormatCSV
	}
	format, err := report.ParseFormat(format)
	if err != nil || format == report.FormatJSON {
		writeError(w, http.StatusBadRequest, "format must be csv or xlsx", "INVALID_FORMAT")
		return
	}
	f, err := bookingFilter(r, auth.OrgIDFromContext(r.Context()))
	if err != nil {
		s.failFilter(w, r, err)
		return
	}

	bookings, err := s.fetchBookings(r, f, maxExportRows)
	if err != nil {
		s.fail(w, r, err, "bookings")
		return
	}
	s.writeTable(w, r, report.BookingsTable(bookings), format)
}

// writeTable sends t as a file download.
func (s *Server) writeTable(w http.ResponseWriter, r *http.Request, t report.Table, format string) {
	w.Header().Set("Content-Type", report.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+t.Filename(format, s.Now())+`"`)
	if err := t.Write(w, format); err != nil {
		// Headers are gone by now; all that is left is to log.
		s.Logger.Error("export failed", zap.String("table", t.Title), zap.String("format", format), zap.Error(err))
	}
}
