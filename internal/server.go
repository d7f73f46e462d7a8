package internal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/http"
	"time"

	"courier-console-api/internal/auth"
	"courier-console-api/internal/cache"
	"courier-console-api/internal/config"
	"courier-console-api/internal/handlers"
	"courier-console-api/internal/stock"
	"courier-console-api/internal/subscription"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed openapi
var openapiFS embed.FS

// Roles allowed to write each area of the console.
var (
	bookingWriters   = []string{auth.RoleOwner, auth.RoleManager, auth.RoleOperator, auth.RoleAgent}
	stockOperators   = []string{auth.RoleOwner, auth.RoleManager, auth.RoleOperator}
	orgManagers      = []string{auth.RoleOwner, auth.RoleManager}
	reportReaders    = []string{auth.RoleOwner, auth.RoleManager, auth.RoleViewer}
	platformOperator = []string{auth.RoleSuperAdmin}
)

type Server struct {
	DB         *sql.DB
	Pool       *pgxpool.Pool
	Router     *chi.Mux
	JWTManager *auth.JWTManager
	Metrics    *Metrics
	Logger     *zap.Logger
	Cache      cache.Cache
	Ledger     *stock.Ledger
	Config     *config.Config
	Now        func() time.Time
}

// NewServer wires the router. db backs the handlers; pool backs the stock
// ledger and importer, which need pgx transactions.
func NewServer(cfg *config.Config, db *sql.DB, pool *pgxpool.Pool, c cache.Cache, logger *zap.Logger) (*Server, error) {
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTExpiry)
	if err := jwtManager.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("jwt configuration: %w", err)
	}
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		DB:         db,
		Pool:       pool,
		Router:     chi.NewRouter(),
		JWTManager: jwtManager,
		Metrics:    NewMetrics(),
		Logger:     logger,
		Cache:      c,
		Ledger:     stock.NewLedger(pool),
		Config:     cfg,
		Now:        time.Now,
	}

	// Middleware must be registered before any route on a chi mux.
	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.RealIP)
	s.Router.Use(accessLog(logger))
	s.Router.Use(middleware.Recoverer)
	if cfg.EnableMetrics {
		s.Router.Use(s.Metrics.Middleware())
		s.Router.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}

	s.Router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	s.Router.Get("/dbping", s.dbPing)

	// Public routes
	s.Router.Post("/auth/login", s.loginUser)
	s.Router.Post("/auth/register", s.registerOrganization)
	s.Router.Get("/track/{tracking}", s.trackBooking)
	s.mountDocs(s.Router)

	s.Router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(s.JWTManager))
		r.Use(s.withRLSSession)

		// Reads and document exports stay available after a trial ends.
		s.mountExportRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(subscription.RequireActive(s, s.Now, s.Logger))
			s.mountProtectedRoutes(r)
		})
	})

	return s, nil
}

// Close properly shuts down the server and cleans up resources
func (s *Server) Close(ctx context.Context) error {
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func (s *Server) dbPing(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		s.Logger.Warn("db ping failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", "DB_UNAVAILABLE")
		return
	}
	w.Write([]byte("db: ok"))
}

// role wraps h so only callers holding one of roles reach it.
func role(h http.HandlerFunc, roles ...string) http.HandlerFunc {
	return auth.MustRole(roles...)(h).(http.HandlerFunc)
}

// mountDocs serves the OpenAPI spec and Swagger UI
func (s *Server) mountDocs(mux *chi.Mux) {
	if !s.Config.EnableSwagger {
		return
	}

	mux.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		data, err := openapiFS.ReadFile("openapi/openapi.yaml")
		if err != nil {
			http.Error(w, "Failed to read OpenAPI spec", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-yaml")
		w.Write(data)
	})

	mux.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<!doctype html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>Courier Console API - Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css">
    <style>
        body { margin: 0; background: #f7f7f7; }
        .swagger-ui .topbar { background: #0f172a; border-bottom: 3px solid #f97316; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({
                url: '/openapi.yaml',
                dom_id: '#swagger-ui',
                deepLinking: true,
                tryItOutEnabled: true
            });
        };
    </script>
</body>
</html>`))
	})
}

// mountExportRoutes mounts the POST routes that only read data.
func (s *Server) mountExportRoutes(r chi.Router) {
	r.Post("/bookings/bulk/bills", s.bulkBills)
	r.Post("/bookings/bulk/labels", s.bulkLabels)
}

// mountProtectedRoutes mounts all protected routes that require authentication
func (s *Server) mountProtectedRoutes(r chi.Router) {
	// Self-service
	r.Get("/auth/profile", s.getUserProfile)
	r.Put("/auth/profile", s.updateUserProfile)
	r.Put("/auth/change-password", s.changePassword)
	r.Get("/subscription", s.getSubscription)

	// Users of the caller's organization
	r.Post("/users", role(s.createUser, orgManagers...))
	r.Get("/users", role(s.listUsers, orgManagers...))
	r.Get("/users/{id}", role(s.getUser, orgManagers...))
	r.Put("/users/{id}", role(s.updateUser, orgManagers...))
	r.Delete("/users/{id}", role(s.deleteUser, auth.RoleOwner))

	// Platform administration
	r.Get("/admin/organizations", role(s.adminListOrganizations, platformOperator...))
	r.Get("/admin/organizations/{id}", role(s.adminGetOrganization, platformOperator...))
	r.Get("/admin/users", role(s.adminListUsers, platformOperator...))
	r.Get("/admin/users/{id}", role(s.adminGetUser, platformOperator...))
	r.Patch("/admin/users/{id}/status", role(s.adminSetUserStatus, platformOperator...))
	r.Patch("/admin/users/{id}/commission", role(s.adminSetCommission, platformOperator...))
	r.Patch("/admin/users/{id}/trial", role(s.adminUpdateTrial, platformOperator...))
	r.Get("/admin/users/{id}/analytics", role(s.adminUserAnalytics, platformOperator...))

	// Bookings
	r.Get("/bookings", s.listBookings)
	r.Post("/bookings", role(s.createBooking, bookingWriters...))
	r.Get("/bookings/export", s.exportBookings)
	r.Get("/bookings/{id}", s.getBooking)
	r.Put("/bookings/{id}", role(s.updateBooking, bookingWriters...))
	r.Delete("/bookings/{id}", role(s.deleteBooking, orgManagers...))
	r.Patch("/bookings/{id}/status", role(s.updateBookingStatus, bookingWriters...))
	r.Get("/bookings/{id}/events", s.listBookingEvents)

	// Agents
	r.Get("/office-accounts", s.listOfficeAccounts)
	r.Post("/office-accounts", role(s.createOfficeAccount, orgManagers...))
	r.Get("/office-accounts/leaderboard", s.agentLeaderboard)
	r.Get("/office-accounts/{id}", s.getOfficeAccount)
	r.Put("/office-accounts/{id}", role(s.updateOfficeAccount, orgManagers...))
	r.Delete("/office-accounts/{id}", role(s.deleteOfficeAccount, orgManagers...))
	r.Get("/office-accounts/{id}/commission", s.agentCommission)

	// Warehouses and stock
	r.Get("/warehouses", s.listWarehouses)
	r.Post("/warehouses", role(s.createWarehouse, orgManagers...))
	r.Get("/warehouses/{id}", s.getWarehouse)
	r.Put("/warehouses/{id}", role(s.updateWarehouse, orgManagers...))
	r.Delete("/warehouses/{id}", role(s.deleteWarehouse, orgManagers...))
	r.Get("/warehouses/{id}/stats", s.getWarehouseStats)
	r.Get("/warehouses/{id}/items", s.listItems)
	r.Post("/warehouses/{id}/items", role(s.createItem, stockOperators...))
	r.Get("/warehouses/{id}/operations", s.listOperations)
	r.Post("/warehouses/{id}/operations", role(s.createOperation, stockOperators...))
	r.Get("/items/{id}", s.getItem)
	r.Put("/items/{id}", role(s.updateItem, stockOperators...))
	r.Delete("/items/{id}", role(s.deleteItem, orgManagers...))

	importsHandler := handlers.NewImportsHandler(s.Ledger, s.Cache, s.Logger)
	importsHandler.DefaultMap = s.Config.StockMappingPath
	r.Post("/imports/stock", role(importsHandler.UploadStock, stockOperators...))

	// Team and roles
	r.Get("/roles", s.listRoles)
	r.Post("/roles", role(s.createRole, orgManagers...))
	r.Get("/roles/{id}", s.getRole)
	r.Put("/roles/{id}", role(s.updateRole, orgManagers...))
	r.Delete("/roles/{id}", role(s.deleteRole, orgManagers...))
	r.Get("/team", s.listTeamMembers)
	r.Post("/team", role(s.createTeamMember, orgManagers...))
	r.Get("/team/departments", s.listDepartments)
	r.Get("/team/{id}", s.getTeamMember)
	r.Put("/team/{id}", role(s.updateTeamMember, orgManagers...))
	r.Delete("/team/{id}", role(s.deleteTeamMember, orgManagers...))

	// Analytics and reports
	r.Get("/dashboard", s.getDashboard)
	r.Get("/analytics", role(s.getAnalytics, reportReaders...))
	r.Get("/reports/{type}", role(s.getReport, reportReaders...))
}
