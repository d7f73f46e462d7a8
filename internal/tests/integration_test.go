//go:build integration

package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"courier-console-api/internal"
	"courier-console-api/internal/auth"
	"courier-console-api/internal/config"
	"courier-console-api/internal/models"
	"courier-console-api/internal/testutil"
	"courier-console-api/pkg/importer"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "supersecretkeyforintegrationtestingonly"

var (
	setupOnce  sync.Once
	testServer *internal.Server
)

// server resets the schema once per run and returns the shared server.
func server(t *testing.T) *internal.Server {
	t.Helper()
	testutil.RequireIntegration(t)
	setupOnce.Do(func() {
		db := testutil.NewTestDB(t)
		testutil.ResetSchema(t, db)

		cfg := &config.Config{
			JWTSecret:   testSecret,
			JWTIssuer:   "courier-console-api",
			JWTAudience: "courier-console-api",
			JWTExpiry:   24 * time.Hour,
			CacheTTL:    time.Minute,
			TrialDays:   14,
			LogLevel:    "info",
			RLSEnabled:  true,

			StockMappingPath: filepath.Join(testutil.RepoRoot(t), importer.DefaultMappingPath),
		}
		// db belongs to the first test's cleanup; the server opens its own handles.
		srvDB, err := sql.Open("pgx", testutil.TestDSN())
		require.NoError(t, err)
		pool, err := pgxpool.New(context.Background(), testutil.TestDSN())
		require.NoError(t, err)
		srv, err := internal.NewServer(cfg, srvDB, pool, nil, nil)
		require.NoError(t, err)
		testServer = srv
	})
	require.NotNil(t, testServer, "integration server failed to start")
	return testServer
}

// do sends a JSON request through the router. headers are key, value pairs.
func do(t *testing.T, srv *internal.Server, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// register signs up a fresh business and returns the owner's login.
func register(t *testing.T, srv *internal.Server, name string) models.LoginResponse {
	t.Helper()
	w := do(t, srv, http.MethodPost, "/auth/register", "", models.RegisterRequest{
		OrganizationName: name,
		Email:            fmt.Sprintf("owner+%d@%s.test", time.Now().UnixNano(), "courier"),
		Password:         "correct-horse",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.LoginResponse](t, w)
}

func TestHealthEndpoint(t *testing.T) {
	srv := server(t)

	w := do(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestUnauthorizedAccess(t *testing.T) {
	srv := server(t)

	w := do(t, srv, http.MethodGet, "/bookings", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, srv, http.MethodGet, "/bookings", "invalid-token", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterLoginAndProfile(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Falcon Couriers")
	require.Equal(t, "trial", reg.Subscription.State)
	require.Equal(t, 14, reg.Subscription.DaysRemaining)

	w := do(t, srv, http.MethodPost, "/auth/login", "", models.LoginRequest{Email: reg.User.Email, Password: "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[models.LoginResponse](t, w)
	require.Equal(t, reg.User.ID, login.User.ID)

	w = do(t, srv, http.MethodPost, "/auth/login", "", models.LoginRequest{Email: reg.User.Email, Password: "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, srv, http.MethodGet, "/auth/profile", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestInsufficientPermissions(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Viewer Test Co")

	token, err := srv.JWTManager.GenerateToken(reg.User.ID, reg.User.OrgID, []string{auth.RoleViewer})
	require.NoError(t, err)

	w := do(t, srv, http.MethodPost, "/warehouses", token, map[string]any{"code": "W1", "name": "Hub"})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestExpiredTrialBlocksWrites(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Lapsed Logistics")

	_, err := srv.DB.Exec(`UPDATE organizations SET trial_ends_at = now() - interval '1 day' WHERE id = $1`, reg.User.OrgID)
	require.NoError(t, err)

	w := do(t, srv, http.MethodGet, "/bookings", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPost, "/warehouses", reg.Token, map[string]any{"code": "W1", "name": "Hub"})
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), "SUBSCRIPTION_EXPIRED")
}

func TestTenantIsolation(t *testing.T) {
	srv := server(t)
	a := register(t, srv, "Tenant A")
	b := register(t, srv, "Tenant B")

	w := do(t, srv, http.MethodPost, "/warehouses", a.Token, map[string]any{"code": "A-1", "name": "A hub", "capacity": 100})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	wh := decode[models.Warehouse](t, w)

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/warehouses/%d", wh.ID), b.Token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminOrganizations(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Overview Freight")

	w := do(t, srv, http.MethodGet, "/admin/organizations", reg.Token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	token, err := srv.JWTManager.GenerateToken(1, 1, []string{auth.RoleSuperAdmin})
	require.NoError(t, err)

	w = do(t, srv, http.MethodGet, "/admin/organizations?q=Overview%20Freight", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list struct {
		Data []models.OrganizationSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, reg.User.OrgID, list.Data[0].ID)
	assert.Equal(t, "trial", list.Data[0].Subscription.State)
	assert.Equal(t, 1, list.Data[0].Users)

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/admin/organizations/%d", reg.User.OrgID), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Overview Freight", decode[models.OrganizationSummary](t, w).Name)
}
