//go:build integration

package tests

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"courier-console-api/internal/auth"
	"courier-console-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrgKeepsAnActiveOwner(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Sole Owner Cargo")
	ownerPath := fmt.Sprintf("/users/%d", reg.User.ID)

	w := do(t, srv, http.MethodPost, "/users", reg.Token, models.CreateUserRequest{
		Email:    fmt.Sprintf("manager+%d@courier.test", time.Now().UnixNano()),
		Password: "correct-horse",
		Roles:    []string{auth.RoleManager},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	manager := decode[models.User](t, w)
	managerToken, err := srv.JWTManager.GenerateToken(manager.ID, reg.User.OrgID, []string{auth.RoleManager})
	require.NoError(t, err)

	w = do(t, srv, http.MethodPut, ownerPath, managerToken, map[string]any{"roles": []string{auth.RoleViewer}})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "INSUFFICIENT_PERMISSIONS")

	w = do(t, srv, http.MethodPut, ownerPath, managerToken, map[string]any{"is_active": false})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = do(t, srv, http.MethodDelete, ownerPath, managerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPut, ownerPath, reg.Token, map[string]any{"roles": []string{auth.RoleManager}})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "LAST_OWNER")

	w = do(t, srv, http.MethodGet, ownerPath, reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	owner := decode[models.User](t, w)
	assert.True(t, owner.IsActive)
	assert.Contains(t, owner.Roles, auth.RoleOwner)

	// With a second owner the first may step down.
	w = do(t, srv, http.MethodPut, fmt.Sprintf("/users/%d", manager.ID), reg.Token, map[string]any{"roles": []string{auth.RoleOwner}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPut, ownerPath, reg.Token, map[string]any{"roles": []string{auth.RoleManager}})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestTeamFilters(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Crew Filters")

	for i, dept := range []string{"Dispatch", "Dispatch", "Finance"} {
		w := do(t, srv, http.MethodPost, "/team", reg.Token, map[string]any{
			"name":       fmt.Sprintf("Member %d", i),
			"email":      fmt.Sprintf("member%d@crew.test", i),
			"department": dept,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	type page struct {
		Data []models.TeamMember `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}

	w := do(t, srv, http.MethodGet, "/team", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 3, decode[page](t, w).Meta.Total)

	w = do(t, srv, http.MethodGet, "/team?department=Dispatch", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	dispatch := decode[page](t, w)
	require.Len(t, dispatch.Data, 2)
	assert.Equal(t, 2, dispatch.Meta.Total)
	for _, m := range dispatch.Data {
		require.NotNil(t, m.Department)
		assert.Equal(t, "Dispatch", *m.Department)
	}

	w = do(t, srv, http.MethodGet, "/team?q=nobody-by-this-name", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"data":[]`)
	assert.Zero(t, decode[page](t, w).Meta.Total)
}
