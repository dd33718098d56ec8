package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/financas/backend/internal/models"
	"github.com/financas/backend/internal/pagination"
)

// Filter narrows a transaction listing. The tenant condition is applied
// before any of these and cannot be omitted by the caller.
type Filter struct {
	AccountID  string
	CategoryID string
	Type       models.TransactionType
	From       *time.Time
	To         *time.Time
	Settled    *bool
}

func (f *Filter) conditions() ([]string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args)+1) // $1 is reserved for tenant_id
	}

	if f.AccountID != "" {
		conds = append(conds, fmt.Sprintf("(account_id = %[1]s OR counter_account_id = %[1]s)", arg(f.AccountID)))
	}
	if f.CategoryID != "" {
		conds = append(conds, "category_id = "+arg(f.CategoryID))
	}
	if f.Type != "" {
		conds = append(conds, "type = "+arg(string(f.Type)))
	}
	if f.From != nil {
		conds = append(conds, "transaction_date >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "transaction_date <= "+arg(*f.To))
	}
	if f.Settled != nil {
		conds = append(conds, "settled = "+arg(*f.Settled))
	}
	return conds, args
}

// ListTransactions returns the tenant's transactions matching the filter,
// newest first, paginated.
func (e *Engine) ListTransactions(ctx context.Context, tenantID string, filter Filter, params pagination.Params) (pagination.Page[models.Transaction], error) {
	var page pagination.Page[models.Transaction]

	conds, args := filter.conditions()
	where := "WHERE tenant_id = $1"
	if len(conds) > 0 {
		where += " AND " + strings.Join(conds, " AND ")
	}
	args = append([]any{tenantID}, args...)

	var total int
	if err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions `+where, args...).Scan(&total); err != nil {
		return page, storage("count transactions", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY transaction_date DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)+1, len(args)+2)
	args = append(args, params.PageSize, params.Offset())

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return page, storage("list transactions", err)
	}
	defer rows.Close()

	items := []models.Transaction{}
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return page, storage("scan transaction", err)
		}
		items = append(items, *record)
	}
	if err := rows.Err(); err != nil {
		return page, storage("list transactions", err)
	}

	return pagination.NewPage(items, params, total), nil
}

// GetTransaction returns one transaction or ErrNotFound.
func (e *Engine) GetTransaction(ctx context.Context, tenantID, id string) (*models.Transaction, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND tenant_id = $2`,
		id, tenantID)
	record, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage("get transaction", err)
	}
	return record, nil
}

// Summary holds the tenant-wide aggregates. Transfers move funds between the
// tenant's own accounts and therefore contribute to neither total.
type Summary struct {
	TotalIncome  decimal.Decimal `json:"totalIncome"`
	TotalExpense decimal.Decimal `json:"totalExpense"`
	NetBalance   decimal.Decimal `json:"netBalance"`
}

// BalanceSummary aggregates income and expense over the tenant's
// transactions. With no date range it additionally cross-checks the result
// against the account balances; a mismatch means a balance update bypassed
// the atomic adjustment path and is surfaced as ErrBalanceInvariant.
func (e *Engine) BalanceSummary(ctx context.Context, tenantID string, from, to *time.Time) (*Summary, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN type = 'income' THEN amount END), 0) AS total_income,
			COALESCE(SUM(CASE WHEN type = 'expense' THEN amount END), 0) AS total_expense
		FROM transactions
		WHERE tenant_id = $1`
	args := []any{tenantID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND transaction_date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND transaction_date <= $%d", len(args))
	}

	var summary Summary
	if err := e.db.QueryRowContext(ctx, query, args...).Scan(&summary.TotalIncome, &summary.TotalExpense); err != nil {
		return nil, storage("balance summary", err)
	}
	summary.NetBalance = summary.TotalIncome.Sub(summary.TotalExpense)

	if from == nil && to == nil {
		var accountNet decimal.Decimal
		err := e.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(balance - opening_balance), 0) FROM accounts WHERE tenant_id = $1`,
			tenantID).Scan(&accountNet)
		if err != nil {
			return nil, storage("balance cross-check", err)
		}
		if !accountNet.Equal(summary.NetBalance) {
			return nil, fmt.Errorf("%w: accounts net %s, transactions net %s",
				ErrBalanceInvariant, accountNet.String(), summary.NetBalance.String())
		}
	}

	return &summary, nil
}

// CountUnsettled returns the number of open (unsettled) transactions for the
// tenant.
func (e *Engine) CountUnsettled(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE tenant_id = $1 AND settled = false`,
		tenantID).Scan(&count)
	if err != nil {
		return 0, storage("count unsettled", err)
	}
	return count, nil
}
