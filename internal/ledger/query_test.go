package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/financas/backend/internal/models"
	"github.com/financas/backend/internal/pagination"
)

func TestEngine_ListTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	engine := NewEngine(db)
	ctx := context.Background()
	txDate := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("plain listing with pagination envelope", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM transactions WHERE tenant_id = \$1`).
			WithArgs(testTenant).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(23))
		mock.ExpectQuery(`FROM transactions WHERE tenant_id = \$1 ORDER BY transaction_date DESC, created_at DESC LIMIT \$2 OFFSET \$3`).
			WithArgs(testTenant, 10, 10).
			WillReturnRows(transactionRows().AddRow(
				"tx-1", testTenant, testAccount, nil, nil,
				"Salary", "income", "500.00", txDate, nil,
				false, nil, nil, txDate, txDate))

		page, err := engine.ListTransactions(ctx, testTenant, Filter{}, pagination.Params{Page: 2, PageSize: 10})
		assert.NoError(t, err)
		assert.Len(t, page.Items, 1)
		assert.Equal(t, 2, page.Page)
		assert.Equal(t, 23, page.TotalRecords)
		assert.Equal(t, 3, page.TotalPages)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account filter also matches the counter side", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM transactions WHERE tenant_id = \$1 AND \(account_id = \$2 OR counter_account_id = \$2\)`).
			WithArgs(testTenant, testAccount).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`WHERE tenant_id = \$1 AND \(account_id = \$2 OR counter_account_id = \$2\)`).
			WithArgs(testTenant, testAccount, 10, 0).
			WillReturnRows(transactionRows())

		page, err := engine.ListTransactions(ctx, testTenant,
			Filter{AccountID: testAccount}, pagination.Params{Page: 1, PageSize: 10})
		assert.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Equal(t, 0, page.TotalPages)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("combined filters keep placeholder order", func(t *testing.T) {
		from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		settled := false

		mock.ExpectQuery(`WHERE tenant_id = \$1 AND type = \$2 AND transaction_date >= \$3 AND settled = \$4`).
			WithArgs(testTenant, "expense", from, settled).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(`WHERE tenant_id = \$1 AND type = \$2 AND transaction_date >= \$3 AND settled = \$4 ORDER BY`).
			WithArgs(testTenant, "expense", from, settled, 10, 0).
			WillReturnRows(transactionRows().AddRow(
				"tx-2", testTenant, testAccount, nil, nil,
				"Rent", "expense", "900.00", txDate, nil,
				false, nil, nil, txDate, txDate))

		page, err := engine.ListTransactions(ctx, testTenant,
			Filter{Type: models.TypeExpense, From: &from, Settled: &settled},
			pagination.Params{Page: 1, PageSize: 10})
		assert.NoError(t, err)
		assert.Len(t, page.Items, 1)
		assert.Equal(t, "Rent", page.Items[0].Description)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEngine_GetTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	engine := NewEngine(db)
	ctx := context.Background()
	txDate := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(`FROM transactions WHERE id = \$1 AND tenant_id = \$2`).
			WithArgs("tx-1", testTenant).
			WillReturnRows(transactionRows().AddRow(
				"tx-1", testTenant, testAccount, testCounter, nil,
				"To savings", "transfer", "300.00", txDate, nil,
				false, nil, "monthly sweep", txDate, txDate))

		record, err := engine.GetTransaction(ctx, testTenant, "tx-1")
		assert.NoError(t, err)
		assert.Equal(t, testCounter, record.CounterAccountID)
		assert.Equal(t, "monthly sweep", record.Notes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cross-tenant lookup is a not-found", func(t *testing.T) {
		mock.ExpectQuery(`FROM transactions WHERE id = \$1 AND tenant_id = \$2`).
			WithArgs("tx-1", "tenant-2").
			WillReturnRows(transactionRows())

		_, err := engine.GetTransaction(ctx, "tenant-2", "tx-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEngine_BalanceSummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	engine := NewEngine(db)
	ctx := context.Background()

	t.Run("aggregates match the account balances", func(t *testing.T) {
		mock.ExpectQuery(`FROM transactions\s+WHERE tenant_id = \$1`).
			WithArgs(testTenant).
			WillReturnRows(sqlmock.NewRows([]string{"total_income", "total_expense"}).
				AddRow("1500.00", "200.00"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(balance - opening_balance\), 0\) FROM accounts WHERE tenant_id = \$1`).
			WithArgs(testTenant).
			WillReturnRows(sqlmock.NewRows([]string{"net"}).AddRow("1300.00"))

		summary, err := engine.BalanceSummary(ctx, testTenant, nil, nil)
		assert.NoError(t, err)
		assert.True(t, summary.TotalIncome.Equal(decimal.RequireFromString("1500.00")))
		assert.True(t, summary.TotalExpense.Equal(decimal.RequireFromString("200.00")))
		assert.True(t, summary.NetBalance.Equal(decimal.RequireFromString("1300.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mismatch against account balances is surfaced", func(t *testing.T) {
		mock.ExpectQuery(`FROM transactions\s+WHERE tenant_id = \$1`).
			WithArgs(testTenant).
			WillReturnRows(sqlmock.NewRows([]string{"total_income", "total_expense"}).
				AddRow("1500.00", "200.00"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(balance - opening_balance\), 0\) FROM accounts`).
			WithArgs(testTenant).
			WillReturnRows(sqlmock.NewRows([]string{"net"}).AddRow("999.00"))

		_, err := engine.BalanceSummary(ctx, testTenant, nil, nil)
		assert.ErrorIs(t, err, ErrBalanceInvariant)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("date range skips the cross-check", func(t *testing.T) {
		from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

		mock.ExpectQuery(`WHERE tenant_id = \$1 AND transaction_date >= \$2 AND transaction_date <= \$3`).
			WithArgs(testTenant, from, to).
			WillReturnRows(sqlmock.NewRows([]string{"total_income", "total_expense"}).
				AddRow("100.00", "40.00"))

		summary, err := engine.BalanceSummary(ctx, testTenant, &from, &to)
		assert.NoError(t, err)
		assert.True(t, summary.NetBalance.Equal(decimal.RequireFromString("60.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEngine_CountUnsettled(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	engine := NewEngine(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM transactions WHERE tenant_id = \$1 AND settled = false`).
		WithArgs(testTenant).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := engine.CountUnsettled(context.Background(), testTenant)
	assert.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
