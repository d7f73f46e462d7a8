package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courier-console-api/internal/auth"
	"courier-console-api/internal/stock"
	"courier-console-api/pkg/importer"

	"go.uber.org/zap"
)

// Invalidator drops an organization's cached analytics after stock moved.
type Invalidator interface {
	Invalidate(ctx context.Context, orgID int64) error
}

// ImportsHandler handles Excel stock imports
type ImportsHandler struct {
	Ledger     importer.Applier
	Cache      Invalidator
	Logger     *zap.Logger
	MaxBytes   int64
	DefaultMap string
}

// NewImportsHandler creates a new imports handler
func NewImportsHandler(ledger importer.Applier, cache Invalidator, logger *zap.Logger) *ImportsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportsHandler{
		Ledger:     ledger,
		Cache:      cache,
		Logger:     logger,
		MaxBytes:   20 << 20, // 20 MB
		DefaultMap: importer.DefaultMappingPath,
	}
}

// UploadStock handles POST /imports/stock. Each row becomes an inbound
// operation, or an adjustment to an absolute count with mode=set.
func (h *ImportsHandler) UploadStock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		auth.SendError(w, "content-type must be multipart/form-data", "INVALID_CONTENT_TYPE", http.StatusBadRequest)
		return
	}
	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		auth.SendError(w, "invalid multipart form: "+err.Error(), "INVALID_FORM", http.StatusBadRequest)
		return
	}

	warehouseID, err := strconv.ParseInt(r.FormValue("warehouse_id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		auth.SendError(w, "warehouse_id is required and must be a positive integer", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	setCounts := false
	switch mode := r.FormValue("mode"); mode {
	case "", "add":
	case "set":
		setCounts = true
	default:
		auth.SendError(w, "mode must be add or set", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	dryRun := r.FormValue("dry_run") == "true"
	maxErrors := importer.DefaultMaxErrors
	if v := r.FormValue("max_errors"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxErrors = n
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		auth.SendError(w, "file is required: "+err.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !isXLSX(header) {
		auth.SendError(w, "only .xlsx files are accepted", "INVALID_FILE", http.StatusBadRequest)
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		auth.SendError(w, "Authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}
	userID := claims.UserID

	start := time.Now()
	sum, impErr := importer.Import(r.Context(), h.Ledger, file, importer.Options{
		OrgID:       claims.OrgID,
		WarehouseID: warehouseID,
		PerformedBy: &userID,
		MappingPath: h.DefaultMap,
		SetCounts:   setCounts,
		DryRun:      dryRun,
		MaxErrors:   maxErrors,
	})
	h.Logger.Info("stock import",
		zap.Int64("org_id", claims.OrgID),
		zap.Int64("warehouse_id", warehouseID),
		zap.String("file", header.Filename),
		zap.Bool("dry_run", dryRun),
		zap.Int("rows", sum.Rows),
		zap.Int("applied", sum.Applied),
		zap.Int("failed", sum.Failed),
		zap.Duration("took", time.Since(start)),
		zap.Error(impErr))

	if impErr != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(impErr, stock.ErrWarehouseNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{
			"error":   impErr.Error(),
			"code":    "IMPORT_FAILED",
			"summary": sum,
		})
		return
	}

	if !dryRun && sum.Applied > 0 && h.Cache != nil {
		if err := h.Cache.Invalidate(r.Context(), claims.OrgID); err != nil {
			h.Logger.Warn("analytics cache invalidation failed", zap.Int64("org_id", claims.OrgID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": sum,
		"meta": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"mode":      map[bool]string{false: "add", true: "set"}[setCounts],
		},
	})
}

// isXLSX checks if the uploaded file is an Excel .xlsx file
func isXLSX(h *multipart.FileHeader) bool {
	return strings.HasSuffix(strings.ToLower(h.Filename), ".xlsx")
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
