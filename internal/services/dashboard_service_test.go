package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestDashboardService_GetIndicators(t *testing.T) {
	t.Run("computes and caches on a cache miss", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewDashboardService(db, redisClient)

		redisMock.ExpectGet("dashboard:indicators:tenant-1").RedisNil()
		mock.ExpectQuery(`FROM transactions\s+WHERE tenant_id = \$1`).
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"total_income", "total_expense"}).
				AddRow("1500.00", "200.00"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(balance - opening_balance\), 0\) FROM accounts`).
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"net"}).AddRow("1300.00"))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM transactions WHERE tenant_id = \$1 AND settled = false`).
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(balance\), 0\) FROM accounts WHERE tenant_id = \$1 AND active = true`).
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("2300.00"))
		redisMock.Regexp().ExpectSet("dashboard:indicators:tenant-1", `.*`, indicatorsCacheTTL).SetVal("OK")

		req := authed(httptest.NewRequest("GET", "/dashboard/indicators", nil))
		w := httptest.NewRecorder()

		service.GetIndicators(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response Indicators
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "2300.00", response.TotalBalance.String())
		assert.Equal(t, "1500.00", response.TotalIncome.String())
		assert.Equal(t, 4, response.OpenCount)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("serves from cache without touching the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewDashboardService(db, redisClient)

		cached, _ := json.Marshal(Indicators{OpenCount: 7})
		redisMock.ExpectGet("dashboard:indicators:tenant-1").SetVal(string(cached))

		req := authed(httptest.NewRequest("GET", "/dashboard/indicators", nil))
		w := httptest.NewRecorder()

		service.GetIndicators(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response Indicators
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 7, response.OpenCount)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("invariant violation is not masked", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewDashboardService(db, redisClient)

		redisMock.ExpectGet("dashboard:indicators:tenant-1").RedisNil()
		mock.ExpectQuery(`FROM transactions\s+WHERE tenant_id = \$1`).
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"total_income", "total_expense"}).
				AddRow("1500.00", "200.00"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(balance - opening_balance\), 0\) FROM accounts`).
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"net"}).AddRow("999.00"))

		req := authed(httptest.NewRequest("GET", "/dashboard/indicators", nil))
		w := httptest.NewRecorder()

		service.GetIndicators(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "BALANCE_INVARIANT_VIOLATION", response.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDashboardService_GetMonthlySeries(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := NewDashboardService(db, redisClient)

	t.Run("one grouped row per month", func(t *testing.T) {
		mock.ExpectQuery(`GROUP BY 1`).
			WithArgs("tenant-1", 3).
			WillReturnRows(sqlmock.NewRows([]string{"month", "income", "expense"}).
				AddRow("2025-01", "1500.00", "900.00").
				AddRow("2025-02", "1500.00", "1100.00").
				AddRow("2025-03", "1600.00", "800.00"))

		req := authed(httptest.NewRequest("GET", "/dashboard/monthly?months=3", nil))
		w := httptest.NewRecorder()

		service.GetMonthlySeries(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response []MonthlyPoint
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Len(t, response, 3)
		assert.Equal(t, "2025-02", response[1].Month)
		assert.Equal(t, "1100.00", response[1].Expense.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a non-numeric window", func(t *testing.T) {
		req := authed(httptest.NewRequest("GET", "/dashboard/monthly?months=soon", nil))
		w := httptest.NewRecorder()

		service.GetMonthlySeries(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDashboardService_GetCashFlowForecast(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := NewDashboardService(db, redisClient)

	t.Run("projects a running balance per due date", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(balance\), 0\) FROM accounts WHERE tenant_id = \$1 AND active = true`).
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("1000.00"))
		mock.ExpectQuery(`WHERE tenant_id = \$1\s+AND settled = false`).
			WithArgs("tenant-1", 30).
			WillReturnRows(sqlmock.NewRows([]string{"day", "inflow", "outflow"}).
				AddRow("2025-03-12", "0", "300.00").
				AddRow("2025-03-20", "500.00", "0"))

		req := authed(httptest.NewRequest("GET", "/dashboard/forecast", nil))
		w := httptest.NewRecorder()

		service.GetCashFlowForecast(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response []ForecastPoint
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Len(t, response, 2)
		assert.Equal(t, "700.00", response[0].Balance.String())
		assert.Equal(t, "1200.00", response[1].Balance.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDashboardService_GetCategoryBreakdown(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := NewDashboardService(db, redisClient)

	mock.ExpectQuery(`JOIN categories c ON c.id = t.category_id`).
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "color", "total"}).
			AddRow("cat-1", "Groceries", "#00FF00", "420.00").
			AddRow("cat-2", "Rent", "", "900.00"))

	req := authed(httptest.NewRequest("GET", "/dashboard/categories", nil))
	w := httptest.NewRecorder()

	service.GetCategoryBreakdown(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response []CategorySlice
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response, 2)
	assert.Equal(t, "Groceries", response[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}
