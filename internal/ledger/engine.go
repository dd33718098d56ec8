package ledger

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/financas/backend/internal/models"
)

// Engine maintains the balance invariant: an account's balance equals its
// opening balance plus the signed sum of every transaction posted against
// it. Every mutation runs inside a single database transaction so the
// transaction row and the balance adjustment are never individually visible.
//
// Balance changes are always issued as relative adjustments
// (balance = balance + delta) executed by the database, never as a read
// followed by a write, so concurrent posts against the same account cannot
// lose updates.
type Engine struct {
	db *sql.DB
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Draft is the input for posting a new transaction. The amount is always
// positive; the sign of its balance effect is derived from the type.
type Draft struct {
	Description      string
	Type             models.TransactionType
	Amount           decimal.Decimal
	AccountID        string
	CounterAccountID string
	CategoryID       string
	TransactionDate  time.Time
	DueDate          *time.Time
	Settled          bool
	SettledAt        *time.Time
	Notes            string
}

// Patch is a partial update. Nil fields are left unchanged. An empty string
// in CategoryID clears the category reference; a zero DueDate clears the
// due date.
type Patch struct {
	Description      *string
	Type             *models.TransactionType
	Amount           *decimal.Decimal
	AccountID        *string
	CounterAccountID *string
	CategoryID       *string
	TransactionDate  *time.Time
	DueDate          *time.Time
	Settled          *bool
	SettledAt        *time.Time
	Notes            *string
}

func (d *Draft) validate() error {
	if strings.TrimSpace(d.Description) == "" {
		return invalid("description", "must not be empty")
	}
	if !models.ValidTransactionType(d.Type) {
		return invalid("type", "must be income, expense or transfer")
	}
	if !d.Amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	if d.AccountID == "" {
		return invalid("account_id", "is required")
	}
	if d.Type == models.TypeTransfer {
		if d.CounterAccountID == "" {
			return invalid("counter_account_id", "is required for transfers")
		}
		if d.CounterAccountID == d.AccountID {
			return invalid("counter_account_id", "must differ from account_id")
		}
		if d.CategoryID != "" {
			return invalid("category_id", "transfers cannot carry a category")
		}
	} else if d.CounterAccountID != "" {
		return invalid("counter_account_id", "only allowed for transfers")
	}
	if d.TransactionDate.IsZero() {
		return invalid("transaction_date", "is required")
	}
	if !d.Settled && d.SettledAt != nil {
		return invalid("settled_at", "only allowed on settled transactions")
	}
	return nil
}

// effects returns the signed balance deltas a transaction applies, keyed by
// account id. Income credits its account, expense debits it, and a transfer
// debits the source while crediting the counter account.
func effects(t models.TransactionType, amount decimal.Decimal, accountID, counterID string) map[string]decimal.Decimal {
	switch t {
	case models.TypeIncome:
		return map[string]decimal.Decimal{accountID: amount}
	case models.TypeExpense:
		return map[string]decimal.Decimal{accountID: amount.Neg()}
	case models.TypeTransfer:
		return map[string]decimal.Decimal{accountID: amount.Neg(), counterID: amount}
	}
	return nil
}

// PostTransaction records a transaction and atomically applies its signed
// effect to the referenced account balance. Either both writes commit or
// neither does.
func (e *Engine) PostTransaction(ctx context.Context, tenantID string, draft Draft) (*models.Transaction, error) {
	if err := draft.validate(); err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage("begin", err)
	}
	defer tx.Rollback()

	if draft.CategoryID != "" {
		if err := checkCategory(ctx, tx, tenantID, draft.CategoryID, draft.Type); err != nil {
			return nil, err
		}
	}

	settledAt := draft.SettledAt
	if draft.Settled && settledAt == nil {
		now := time.Now().UTC()
		settledAt = &now
	}

	record := models.Transaction{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		AccountID:        draft.AccountID,
		CounterAccountID: draft.CounterAccountID,
		CategoryID:       draft.CategoryID,
		Description:      strings.TrimSpace(draft.Description),
		Type:             draft.Type,
		Amount:           draft.Amount,
		TransactionDate:  draft.TransactionDate,
		DueDate:          draft.DueDate,
		Settled:          draft.Settled,
		SettledAt:        settledAt,
		Notes:            draft.Notes,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	if err := applyEffects(ctx, tx, tenantID, effects(record.Type, record.Amount, record.AccountID, record.CounterAccountID)); err != nil {
		return nil, err
	}

	if err := insertTransaction(ctx, tx, &record); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storage("commit", err)
	}
	return &record, nil
}

// UpdateTransaction applies a partial update. If the patch changes amount,
// type or account references, the old signed effect is reversed and the new
// one applied, atomically with the row update.
func (e *Engine) UpdateTransaction(ctx context.Context, tenantID, id string, patch Patch) (*models.Transaction, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage("begin", err)
	}
	defer tx.Rollback()

	current, err := lockTransaction(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}

	next := *current
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Type != nil {
		next.Type = *patch.Type
	}
	if patch.Amount != nil {
		next.Amount = *patch.Amount
	}
	if patch.AccountID != nil {
		next.AccountID = *patch.AccountID
	}
	if patch.CounterAccountID != nil {
		next.CounterAccountID = *patch.CounterAccountID
	}
	if patch.CategoryID != nil {
		next.CategoryID = *patch.CategoryID
	}
	if patch.TransactionDate != nil {
		next.TransactionDate = *patch.TransactionDate
	}
	if patch.DueDate != nil {
		if patch.DueDate.IsZero() {
			next.DueDate = nil
		} else {
			next.DueDate = patch.DueDate
		}
	}
	if patch.Notes != nil {
		next.Notes = *patch.Notes
	}
	if next.Type != models.TypeTransfer {
		next.CounterAccountID = ""
	}

	// Settling and unsettling keep the settled_at invariant: a date is
	// present exactly when the flag is set.
	if patch.Settled != nil {
		next.Settled = *patch.Settled
		if next.Settled {
			switch {
			case patch.SettledAt != nil:
				next.SettledAt = patch.SettledAt
			case current.SettledAt != nil:
				next.SettledAt = current.SettledAt
			default:
				now := time.Now().UTC()
				next.SettledAt = &now
			}
		} else {
			next.SettledAt = nil
		}
	} else if patch.SettledAt != nil {
		if !next.Settled {
			return nil, invalid("settled_at", "only allowed on settled transactions")
		}
		next.SettledAt = patch.SettledAt
	}

	draftView := Draft{
		Description:      next.Description,
		Type:             next.Type,
		Amount:           next.Amount,
		AccountID:        next.AccountID,
		CounterAccountID: next.CounterAccountID,
		CategoryID:       next.CategoryID,
		TransactionDate:  next.TransactionDate,
		Settled:          next.Settled,
	}
	if err := draftView.validate(); err != nil {
		return nil, err
	}

	// The category must match the transaction type after the patch, so the
	// check runs when either side of that pairing changed.
	if next.CategoryID != "" && (next.CategoryID != current.CategoryID || next.Type != current.Type) {
		if err := checkCategory(ctx, tx, tenantID, next.CategoryID, next.Type); err != nil {
			return nil, err
		}
	}

	// Net out the reversal of the old effect against the new effect so each
	// touched account gets a single relative adjustment.
	deltas := map[string]decimal.Decimal{}
	for acct, d := range effects(current.Type, current.Amount, current.AccountID, current.CounterAccountID) {
		deltas[acct] = deltas[acct].Sub(d)
	}
	for acct, d := range effects(next.Type, next.Amount, next.AccountID, next.CounterAccountID) {
		deltas[acct] = deltas[acct].Add(d)
	}
	if err := applyEffects(ctx, tx, tenantID, deltas); err != nil {
		return nil, err
	}

	next.UpdatedAt = time.Now().UTC()
	if err := updateTransactionRow(ctx, tx, &next); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storage("commit", err)
	}
	return &next, nil
}

// DeleteTransaction reverses the transaction's signed effect and removes the
// row. Deleting an already-deleted id returns ErrNotFound rather than a
// silent success.
func (e *Engine) DeleteTransaction(ctx context.Context, tenantID, id string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return storage("begin", err)
	}
	defer tx.Rollback()

	current, err := lockTransaction(ctx, tx, tenantID, id)
	if err != nil {
		return err
	}

	reversal := map[string]decimal.Decimal{}
	for acct, d := range effects(current.Type, current.Amount, current.AccountID, current.CounterAccountID) {
		reversal[acct] = d.Neg()
	}
	if err := applyEffects(ctx, tx, tenantID, reversal); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = $1 AND tenant_id = $2`, id, tenantID); err != nil {
		return storage("delete transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return storage("commit", err)
	}
	return nil
}

// MarkAsPaid settles a transaction. Settlement is orthogonal to the balance
// effect, which was applied at posting time; only the flag and date change.
// Re-settling returns ErrAlreadySettled.
func (e *Engine) MarkAsPaid(ctx context.Context, tenantID, id string, settledAt time.Time) (*models.Transaction, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage("begin", err)
	}
	defer tx.Rollback()

	current, err := lockTransaction(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if current.Settled {
		return nil, ErrAlreadySettled
	}

	current.Settled = true
	current.SettledAt = &settledAt
	current.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET settled = true, settled_at = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
		settledAt, current.UpdatedAt, id, tenantID); err != nil {
		return nil, storage("settle transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storage("commit", err)
	}
	return current, nil
}

// applyEffects issues one relative balance adjustment per touched account,
// in ascending account id order so concurrent multi-account operations
// cannot deadlock.
func applyEffects(ctx context.Context, tx *sql.Tx, tenantID string, deltas map[string]decimal.Decimal) error {
	ids := make([]string, 0, len(deltas))
	for id, d := range deltas {
		if !d.IsZero() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := adjustBalance(ctx, tx, tenantID, id, deltas[id]); err != nil {
			return err
		}
	}
	return nil
}

// adjustBalance applies a signed delta to an account balance as a single
// conditional update. The database computes the new value; the application
// never reads then writes.
func adjustBalance(ctx context.Context, tx *sql.Tx, tenantID, accountID string, delta decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2 AND tenant_id = $3 AND active = true`,
		delta, accountID, tenantID)
	if err != nil {
		return storage("adjust balance", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storage("adjust balance", err)
	}
	if affected == 0 {
		var active bool
		err := tx.QueryRowContext(ctx,
			`SELECT active FROM accounts WHERE id = $1 AND tenant_id = $2`, accountID, tenantID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return storage("check account", err)
		}
		return ErrAccountInactive
	}
	return nil
}

func checkCategory(ctx context.Context, tx *sql.Tx, tenantID, categoryID string, txType models.TransactionType) error {
	var categoryType models.CategoryType
	err := tx.QueryRowContext(ctx,
		`SELECT type FROM categories WHERE id = $1 AND tenant_id = $2 AND active = true`,
		categoryID, tenantID).Scan(&categoryType)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return storage("check category", err)
	}
	if string(categoryType) != string(txType) {
		return invalid("category_id", "category type does not match transaction type")
	}
	return nil
}

const transactionColumns = `id, tenant_id, account_id, counter_account_id, category_id, description, type, amount, transaction_date, due_date, settled, settled_at, notes, created_at, updated_at`

func lockTransaction(ctx context.Context, tx *sql.Tx, tenantID, id string) (*models.Transaction, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
		id, tenantID)
	record, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage("lock transaction", err)
	}
	return record, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, tenant_id, account_id, counter_account_id, category_id, description, type, amount, transaction_date, due_date, settled, settled_at, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.TenantID, t.AccountID, nullStr(t.CounterAccountID), nullStr(t.CategoryID),
		t.Description, t.Type, t.Amount, t.TransactionDate, nullTime(t.DueDate),
		t.Settled, nullTime(t.SettledAt), t.Notes, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return storage("insert transaction", err)
	}
	return nil
}

func updateTransactionRow(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET account_id = $1, counter_account_id = $2, category_id = $3, description = $4, type = $5, amount = $6, transaction_date = $7, due_date = $8, settled = $9, settled_at = $10, notes = $11, updated_at = $12
		WHERE id = $13 AND tenant_id = $14`,
		t.AccountID, nullStr(t.CounterAccountID), nullStr(t.CategoryID),
		t.Description, t.Type, t.Amount, t.TransactionDate, nullTime(t.DueDate),
		t.Settled, nullTime(t.SettledAt), t.Notes, t.UpdatedAt, t.ID, t.TenantID)
	if err != nil {
		return storage("update transaction", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		t         models.Transaction
		counter   sql.NullString
		category  sql.NullString
		dueDate   sql.NullTime
		settledAt sql.NullTime
		notes     sql.NullString
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.AccountID, &counter, &category,
		&t.Description, &t.Type, &t.Amount, &t.TransactionDate, &dueDate,
		&t.Settled, &settledAt, &notes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.CounterAccountID = counter.String
	t.CategoryID = category.String
	t.Notes = notes.String
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	if settledAt.Valid {
		t.SettledAt = &settledAt.Time
	}
	return &t, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
