package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/financas/backend/internal/models"
)

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "kind", "opening_balance", "balance",
		"bank", "branch", "number", "active", "created_at", "updated_at",
	})
}

func TestAccountService_CreateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("opening balance seeds the current balance", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))

		body, _ := json.Marshal(CreateAccountRequest{
			Name:           "Main checking",
			Kind:           "checking",
			OpeningBalance: "1000.00",
		})
		req := authed(httptest.NewRequest("POST", "/accounts", bytes.NewBuffer(body)))
		w := httptest.NewRecorder()

		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response models.Account
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.Balance.Equal(response.OpeningBalance))
		assert.True(t, response.Active)
		assert.Equal(t, "tenant-1", response.TenantID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown kind", func(t *testing.T) {
		body, _ := json.Marshal(CreateAccountRequest{Name: "X", Kind: "offshore"})
		req := authed(httptest.NewRequest("POST", "/accounts", bytes.NewBuffer(body)))
		w := httptest.NewRecorder()

		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non-decimal opening balance", func(t *testing.T) {
		body, _ := json.Marshal(CreateAccountRequest{
			Name:           "X",
			Kind:           "savings",
			OpeningBalance: "a lot",
		})
		req := authed(httptest.NewRequest("POST", "/accounts", bytes.NewBuffer(body)))
		w := httptest.NewRecorder()

		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAccountService_ListAccounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)
	now := time.Now().UTC()

	t.Run("active accounts only by default", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM accounts WHERE tenant_id = \$1 AND active = true`).
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(`FROM accounts WHERE tenant_id = \$1 AND active = true ORDER BY created_at DESC`).
			WithArgs("tenant-1", 10, 0).
			WillReturnRows(accountRows().AddRow(
				"acc-a", "tenant-1", "Main checking", "checking", "1000.00", "1300.00",
				nil, nil, nil, true, now, now))

		req := authed(httptest.NewRequest("GET", "/accounts", nil))
		w := httptest.NewRecorder()

		service.ListAccounts(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Items []models.Account `json:"items"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Len(t, response.Items, 1)
		assert.Equal(t, models.AccountChecking, response.Items[0].Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("includeInactive widens the scope", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM accounts WHERE tenant_id = \$1`).
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`FROM accounts WHERE tenant_id = \$1 ORDER BY created_at DESC`).
			WithArgs("tenant-1", 10, 0).
			WillReturnRows(accountRows())

		req := authed(httptest.NewRequest("GET", "/accounts?includeInactive=true", nil))
		w := httptest.NewRecorder()

		service.ListAccounts(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_DeactivateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	router := chi.NewRouter()
	router.Delete("/accounts/{id}", service.DeactivateAccount)

	t.Run("soft delete flips the active flag", func(t *testing.T) {
		mock.ExpectExec(`UPDATE accounts SET active = false, updated_at = NOW\(\) WHERE id = \$1 AND tenant_id = \$2`).
			WithArgs("acc-a", "tenant-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := authed(httptest.NewRequest("DELETE", "/accounts/acc-a", nil))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectExec(`UPDATE accounts SET active = false`).
			WithArgs("acc-gone", "tenant-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		req := authed(httptest.NewRequest("DELETE", "/accounts/acc-gone", nil))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_TotalBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(balance\), 0\) FROM accounts WHERE tenant_id = \$1 AND active = true`).
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("2350.75"))

	req := authed(httptest.NewRequest("GET", "/accounts/total-balance", nil))
	w := httptest.NewRecorder()

	service.TotalBalance(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "2350.75", response["totalBalance"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_UpdateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)
	now := time.Now().UTC()

	router := chi.NewRouter()
	router.Put("/accounts/{id}", service.UpdateAccount)

	t.Run("balance is not writable", func(t *testing.T) {
		body := []byte(`{"name": "Renamed", "balance": "9999.00"}`)
		req := authed(httptest.NewRequest("PUT", "/accounts/acc-a", bytes.NewBuffer(body)))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		// Unknown fields are rejected outright.
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("renames and keeps the balance", func(t *testing.T) {
		mock.ExpectQuery(`FROM accounts WHERE id = \$1 AND tenant_id = \$2`).
			WithArgs("acc-a", "tenant-1").
			WillReturnRows(accountRows().AddRow(
				"acc-a", "tenant-1", "Main checking", "checking", "1000.00", "1300.00",
				nil, nil, nil, true, now, now))
		mock.ExpectExec(`UPDATE accounts\s+SET name = \$1`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := []byte(`{"name": "Primary checking"}`)
		req := authed(httptest.NewRequest("PUT", "/accounts/acc-a", bytes.NewBuffer(body)))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response models.Account
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Primary checking", response.Name)
		assert.Equal(t, "1300.00", response.Balance.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
