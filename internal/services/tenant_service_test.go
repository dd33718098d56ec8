package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/financas/backend/internal/models"
	"github.com/financas/backend/internal/pagination"
)

func tenantRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "cnpj", "email", "phone", "address", "active", "created_at", "updated_at",
	})
}

func TestTenantService_GetCurrentTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTenantService(db)
	now := time.Now().UTC()

	t.Run("returns the authenticated tenant", func(t *testing.T) {
		mock.ExpectQuery(`FROM tenants WHERE id = \$1`).
			WithArgs(testTenant).
			WillReturnRows(tenantRows().
				AddRow(testTenant, "Acme Ltda", "12.345.678/0001-90", "contato@acme.com.br", nil, nil, true, now, now))

		req := authed(httptest.NewRequest("GET", "/api/v1/tenants/me", nil))
		w := httptest.NewRecorder()
		service.GetCurrentTenant(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var tenant models.Tenant
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &tenant))
		assert.Equal(t, "Acme Ltda", tenant.Name)
		assert.Equal(t, "12.345.678/0001-90", tenant.CNPJ)
		assert.Empty(t, tenant.Phone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns 404 when the tenant row is gone", func(t *testing.T) {
		mock.ExpectQuery(`FROM tenants WHERE id = \$1`).
			WithArgs(testTenant).
			WillReturnRows(tenantRows())

		req := authed(httptest.NewRequest("GET", "/api/v1/tenants/me", nil))
		w := httptest.NewRecorder()
		service.GetCurrentTenant(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires authentication", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/tenants/me", nil)
		w := httptest.NewRecorder()
		service.GetCurrentTenant(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTenantService_UpdateCurrentTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTenantService(db)
	now := time.Now().UTC()

	t.Run("merges the patch over stored fields", func(t *testing.T) {
		mock.ExpectQuery(`FROM tenants WHERE id = \$1`).
			WithArgs(testTenant).
			WillReturnRows(tenantRows().
				AddRow(testTenant, "Acme Ltda", "12.345.678/0001-90", "contato@acme.com.br", nil, nil, true, now, now))
		mock.ExpectExec(`UPDATE tenants SET name = \$1, cnpj = \$2, email = \$3, phone = \$4, address = \$5, updated_at = \$6`).
			WithArgs("Acme Holdings", "12.345.678/0001-90", "contato@acme.com.br",
				"+55 11 91234-5678", "", sqlmock.AnyArg(), testTenant).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := authed(httptest.NewRequest("PUT", "/api/v1/tenants/me",
			jsonBody(`{"name": "Acme Holdings", "phone": "+55 11 91234-5678"}`)))
		w := httptest.NewRecorder()
		service.UpdateCurrentTenant(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var tenant models.Tenant
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &tenant))
		assert.Equal(t, "Acme Holdings", tenant.Name)
		assert.Equal(t, "12.345.678/0001-90", tenant.CNPJ)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects malformed email", func(t *testing.T) {
		req := authed(httptest.NewRequest("PUT", "/api/v1/tenants/me",
			jsonBody(`{"email": "not-an-email"}`)))
		w := httptest.NewRecorder()
		service.UpdateCurrentTenant(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "VALIDATION_ERROR", response.Code)
	})
}

func TestTenantService_ListUsers(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTenantService(db)
	now := time.Now().UTC()
	lastLogin := now.Add(-2 * time.Hour)

	t.Run("pages the tenant's users", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE tenant_id = \$1`).
			WithArgs(testTenant).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery(`FROM users WHERE tenant_id = \$1 ORDER BY created_at ASC LIMIT \$2 OFFSET \$3`).
			WithArgs(testTenant, 10, 0).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "tenant_id", "name", "email", "role", "active", "last_login", "created_at", "updated_at",
			}).
				AddRow("user-1", testTenant, "Ana", "ana@acme.com.br", models.RoleAdmin, true, lastLogin, now, now).
				AddRow("user-2", testTenant, "Bruno", "bruno@acme.com.br", models.RoleUser, true, nil, now, now))

		req := authed(httptest.NewRequest("GET", "/api/v1/tenants/me/users", nil))
		w := httptest.NewRecorder()
		service.ListUsers(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var page pagination.Page[models.User]
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		assert.Len(t, page.Items, 2)
		assert.Equal(t, 1, page.TotalPages)
		assert.NotNil(t, page.Items[0].LastLogin)
		assert.Nil(t, page.Items[1].LastLogin)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("surfaces storage failures", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE tenant_id = \$1`).
			WithArgs(testTenant).
			WillReturnError(assert.AnError)

		req := authed(httptest.NewRequest("GET", "/api/v1/tenants/me/users", nil))
		w := httptest.NewRecorder()
		service.ListUsers(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "STORAGE_UNAVAILABLE", response.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
