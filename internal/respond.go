package internal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"courier-console-api/internal/analytics"
	"courier-console-api/internal/auth"
	"courier-console-api/internal/billing"
	"courier-console-api/internal/booking"
	"courier-console-api/internal/report"
	"courier-console-api/internal/stock"
	"courier-console-api/internal/subscription"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxJSONBody = 1 << 20

// PostgreSQL error codes the handlers react to.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	auth.SendError(w, message, code, status)
}

// decodeJSON reads a JSON body into v, answering 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_JSON")
		return false
	}
	return true
}

// pathID parses a positive integer URL parameter, answering 400 itself on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name, "INVALID_ID")
		return 0, false
	}
	return id, true
}

// statusFor maps domain and database errors onto an HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, pgx.ErrNoRows),
		errors.Is(err, stock.ErrItemNotFound), errors.Is(err, stock.ErrWarehouseNotFound):
		return http.StatusNotFound, "NOT_FOUND"

	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, booking.ErrUnknownStatus):
		return http.StatusBadRequest, "INVALID_STATUS"

	case errors.Is(err, stock.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, stock.ErrCapacityExceeded):
		return http.StatusConflict, "CAPACITY_EXCEEDED"
	case errors.Is(err, stock.ErrWarehouseInactive):
		return http.StatusConflict, "WAREHOUSE_INACTIVE"
	case errors.Is(err, stock.ErrIdempotencyConflict):
		return http.StatusConflict, "IDEMPOTENCY_CONFLICT"
	case errors.Is(err, stock.ErrUnknownType), errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, stock.ErrSameWarehouse), errors.Is(err, stock.ErrMissingTarget),
		errors.Is(err, stock.ErrUnexpectedTarget):
		return http.StatusBadRequest, "INVALID_OPERATION"
	case errors.Is(err, stock.ErrTooManyErrors):
		return http.StatusUnprocessableEntity, "IMPORT_FAILED"

	case errors.Is(err, billing.ErrRateOutOfRange), errors.Is(err, billing.ErrRatePrecision),
		errors.Is(err, billing.ErrNegativeAmount),
		errors.Is(err, subscription.ErrUnknownPlan), errors.Is(err, subscription.ErrInvalidExtension):
		return http.StatusBadRequest, "VALIDATION_ERROR"

	case errors.Is(err, analytics.ErrInvalidDate), errors.Is(err, analytics.ErrInvalidRange),
		errors.Is(err, analytics.ErrRangeTooLong), errors.Is(err, analytics.ErrInvalidGranularity):
		return http.StatusBadRequest, "INVALID_RANGE"
	case errors.Is(err, report.ErrUnknownFormat):
		return http.StatusBadRequest, "INVALID_FORMAT"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return http.StatusConflict, "ALREADY_EXISTS"
		case pgForeignKeyViolation:
			return http.StatusConflict, "REFERENCE_VIOLATION"
		case pgCheckViolation:
			return http.StatusBadRequest, "VALIDATION_ERROR"
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// fail answers with the status statusFor picks for err. resource names
// the record being handled ("booking", "warehouse"). Unexpected errors are
// logged and hidden behind a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, resource string) {
	status, code := statusFor(err)
	msg := err.Error()
	switch code {
	case "INTERNAL_ERROR":
		s.Logger.Error("request failed",
			zap.String("resource", resource),
			zap.Error(err),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("org_id", auth.OrgIDFromContext(r.Context())))
		msg = "Internal error while handling " + resource
	case "NOT_FOUND":
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
			msg = resource + " not found"
		}
	case "ALREADY_EXISTS":
		msg = resource + " already exists"
	case "REFERENCE_VIOLATION":
		msg = resource + " references a missing record or is still in use"
	}
	writeError(w, status, msg, code)
}
