package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/financas/backend/internal/ledger"
	"github.com/financas/backend/internal/pagination"
)

// indicatorsCacheTTL bounds how stale the dashboard headline numbers can be.
const indicatorsCacheTTL = 30 * time.Second

type DashboardService struct {
	db     *sql.DB
	engine *ledger.Engine
	redis  *redis.Client
}

func NewDashboardService(db *sql.DB, redisClient *redis.Client) *DashboardService {
	return &DashboardService{
		db:     db,
		engine: ledger.NewEngine(db),
		redis:  redisClient,
	}
}

// Indicators are the dashboard headline numbers.
type Indicators struct {
	TotalBalance decimal.Decimal `json:"totalBalance"`
	TotalIncome  decimal.Decimal `json:"totalIncome"`
	TotalExpense decimal.Decimal `json:"totalExpense"`
	OpenCount    int             `json:"openCount"`
}

// MonthlyPoint is one month of aggregated income and expense.
type MonthlyPoint struct {
	Month   string          `json:"month"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// CategorySlice is the settled expense total for one category.
type CategorySlice struct {
	CategoryID string          `json:"categoryId"`
	Name       string          `json:"name"`
	Color      string          `json:"color,omitempty"`
	Total      decimal.Decimal `json:"total"`
}

// ForecastPoint projects the running balance through upcoming due dates.
type ForecastPoint struct {
	Date    string          `json:"date"`
	Inflow  decimal.Decimal `json:"inflow"`
	Outflow decimal.Decimal `json:"outflow"`
	Balance decimal.Decimal `json:"balance"`
}

// GetIndicators returns the dashboard headline numbers
// @Summary Dashboard indicators
// @Description Total balance, income, expense and open transaction count. Cached briefly in Redis.
// @Tags dashboard
// @Produce json
// @Param from query string false "Period start (RFC 3339)"
// @Param to query string false "Period end (RFC 3339)"
// @Success 200 {object} Indicators
// @Router /dashboard/indicators [get]
func (ds *DashboardService) GetIndicators(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	from, to, err := parsePeriod(r)
	if err != nil {
		SendErrorResponse(w, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}

	cacheKey := indicatorsCacheKey(identity.TenantID, from, to)
	if ds.redis != nil {
		if cached, err := ds.redis.Get(r.Context(), cacheKey).Result(); err == nil {
			var ind Indicators
			if json.Unmarshal([]byte(cached), &ind) == nil {
				WriteJSON(w, http.StatusOK, ind)
				return
			}
		}
	}

	ind, err := ds.computeIndicators(r.Context(), identity.TenantID, from, to)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	if ds.redis != nil {
		if data, err := json.Marshal(ind); err == nil {
			if err := ds.redis.Set(r.Context(), cacheKey, data, indicatorsCacheTTL).Err(); err != nil {
				log.Printf("[DASHBOARD] Failed to cache indicators: %v", err)
			}
		}
	}

	WriteJSON(w, http.StatusOK, ind)
}

func (ds *DashboardService) computeIndicators(ctx context.Context, tenantID string, from, to *time.Time) (*Indicators, error) {
	summary, err := ds.engine.BalanceSummary(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	openCount, err := ds.engine.CountUnsettled(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var totalBalance decimal.Decimal
	err = ds.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(balance), 0) FROM accounts WHERE tenant_id = $1 AND active = true`,
		tenantID).Scan(&totalBalance)
	if err != nil {
		return nil, err
	}

	return &Indicators{
		TotalBalance: totalBalance,
		TotalIncome:  summary.TotalIncome,
		TotalExpense: summary.TotalExpense,
		OpenCount:    openCount,
	}, nil
}

// GetMonthlySeries aggregates income and expense per month
// @Summary Monthly income and expense series
// @Tags dashboard
// @Produce json
// @Param months query int false "Number of months to look back (default 12, max 36)"
// @Success 200 {array} MonthlyPoint
// @Router /dashboard/monthly [get]
func (ds *DashboardService) GetMonthlySeries(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	months := 12
	if raw := r.URL.Query().Get("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			SendErrorResponse(w, "months must be a positive integer", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
		if n > 36 {
			n = 36
		}
		months = n
	}

	// A single grouped scan over the window instead of one query per month.
	rows, err := ds.db.QueryContext(r.Context(), `
		SELECT to_char(date_trunc('month', transaction_date), 'YYYY-MM') AS month,
		       COALESCE(SUM(CASE WHEN type = 'income' THEN amount ELSE 0 END), 0) AS income,
		       COALESCE(SUM(CASE WHEN type = 'expense' THEN amount ELSE 0 END), 0) AS expense
		FROM transactions
		WHERE tenant_id = $1
		  AND type IN ('income', 'expense')
		  AND transaction_date >= date_trunc('month', NOW()) - ($2 - 1) * INTERVAL '1 month'
		GROUP BY 1
		ORDER BY 1`,
		identity.TenantID, months)
	if err != nil {
		SendErrorResponse(w, "Failed to load monthly series", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	points := []MonthlyPoint{}
	for rows.Next() {
		var p MonthlyPoint
		if err := rows.Scan(&p.Month, &p.Income, &p.Expense); err != nil {
			SendErrorResponse(w, "Failed to load monthly series", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
			return
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to load monthly series", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, points)
}

// GetCategoryBreakdown sums settled expenses per category
// @Summary Expenses per category
// @Tags dashboard
// @Produce json
// @Param from query string false "Period start (RFC 3339)"
// @Param to query string false "Period end (RFC 3339)"
// @Success 200 {array} CategorySlice
// @Router /dashboard/categories [get]
func (ds *DashboardService) GetCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	from, to, err := parsePeriod(r)
	if err != nil {
		SendErrorResponse(w, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}

	query := `
		SELECT c.id, c.name, COALESCE(c.color, ''), COALESCE(SUM(t.amount), 0)
		FROM transactions t
		JOIN categories c ON c.id = t.category_id AND c.tenant_id = t.tenant_id
		WHERE t.tenant_id = $1 AND t.type = 'expense' AND t.settled = true`
	args := []any{identity.TenantID}
	if from != nil {
		args = append(args, *from)
		query += ` AND t.transaction_date >= ` + placeholder(len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += ` AND t.transaction_date <= ` + placeholder(len(args))
	}
	query += ` GROUP BY c.id, c.name, c.color ORDER BY 4 DESC`

	rows, err := ds.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		SendErrorResponse(w, "Failed to load category breakdown", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	slices := []CategorySlice{}
	for rows.Next() {
		var s CategorySlice
		if err := rows.Scan(&s.CategoryID, &s.Name, &s.Color, &s.Total); err != nil {
			SendErrorResponse(w, "Failed to load category breakdown", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
			return
		}
		slices = append(slices, s)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to load category breakdown", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, slices)
}

// GetLatestTransactions returns the most recent transactions
// @Summary Latest transactions
// @Tags dashboard
// @Produce json
// @Param limit query int false "Maximum entries (default 5, max 20)"
// @Success 200 {array} models.Transaction
// @Router /dashboard/latest [get]
func (ds *DashboardService) GetLatestTransactions(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			SendErrorResponse(w, "limit must be a positive integer", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
		if n > 20 {
			n = 20
		}
		limit = n
	}

	page, err := ds.engine.ListTransactions(r.Context(), identity.TenantID,
		ledger.Filter{}, pagination.Params{Page: 1, PageSize: limit})
	if err != nil {
		SendEngineError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, page.Items)
}

// GetCashFlowForecast projects the balance through unsettled due dates
// @Summary Cash flow forecast
// @Description Running balance projection from unsettled transactions grouped by due date.
// @Tags dashboard
// @Produce json
// @Param days query int false "Horizon in days (default 30, max 90)"
// @Success 200 {array} ForecastPoint
// @Router /dashboard/forecast [get]
func (ds *DashboardService) GetCashFlowForecast(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			SendErrorResponse(w, "days must be a positive integer", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
		if n > 90 {
			n = 90
		}
		days = n
	}

	var balance decimal.Decimal
	err := ds.db.QueryRowContext(r.Context(),
		`SELECT COALESCE(SUM(balance), 0) FROM accounts WHERE tenant_id = $1 AND active = true`,
		identity.TenantID).Scan(&balance)
	if err != nil {
		SendErrorResponse(w, "Failed to load forecast", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	rows, err := ds.db.QueryContext(r.Context(), `
		SELECT to_char(due_date, 'YYYY-MM-DD') AS day,
		       COALESCE(SUM(CASE WHEN type = 'income' THEN amount ELSE 0 END), 0) AS inflow,
		       COALESCE(SUM(CASE WHEN type = 'expense' THEN amount ELSE 0 END), 0) AS outflow
		FROM transactions
		WHERE tenant_id = $1
		  AND settled = false
		  AND due_date IS NOT NULL
		  AND due_date <= NOW() + $2 * INTERVAL '1 day'
		GROUP BY 1
		ORDER BY 1`,
		identity.TenantID, days)
	if err != nil {
		SendErrorResponse(w, "Failed to load forecast", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	points := []ForecastPoint{}
	for rows.Next() {
		var p ForecastPoint
		if err := rows.Scan(&p.Date, &p.Inflow, &p.Outflow); err != nil {
			SendErrorResponse(w, "Failed to load forecast", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
			return
		}
		balance = balance.Add(p.Inflow).Sub(p.Outflow)
		p.Balance = balance
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to load forecast", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, points)
}

func parsePeriod(r *http.Request) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, &ledger.ValidationError{Field: "from", Reason: "must be an RFC 3339 timestamp"}
		}
		from = &t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, &ledger.ValidationError{Field: "to", Reason: "must be an RFC 3339 timestamp"}
		}
		to = &t
	}
	return from, to, nil
}

func indicatorsCacheKey(tenantID string, from, to *time.Time) string {
	key := "dashboard:indicators:" + tenantID
	if from != nil {
		key += ":" + from.UTC().Format("2006-01-02")
	}
	if to != nil {
		key += ":" + to.UTC().Format("2006-01-02")
	}
	return key
}
