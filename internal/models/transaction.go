package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of transaction types. The sign of a
// transaction's balance effect is derived from its type, never stored in
// the amount.
type TransactionType string

const (
	TypeIncome   TransactionType = "income"
	TypeExpense  TransactionType = "expense"
	TypeTransfer TransactionType = "transfer"
)

// ValidTransactionType reports whether t is one of the supported types.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TypeIncome, TypeExpense, TypeTransfer:
		return true
	}
	return false
}

// Transaction is a single ledger entry owned by one tenant and posted
// against one account. Transfers additionally reference a counter account
// that receives the opposite signed effect.
//
// SettledAt is non-nil if and only if Settled is true.
type Transaction struct {
	ID               string          `json:"id" db:"id"`
	TenantID         string          `json:"tenant_id" db:"tenant_id"`
	AccountID        string          `json:"account_id" db:"account_id"`
	CounterAccountID string          `json:"counter_account_id,omitempty" db:"counter_account_id"`
	CategoryID       string          `json:"category_id,omitempty" db:"category_id"`
	Description      string          `json:"description" db:"description"`
	Type             TransactionType `json:"type" db:"type"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	TransactionDate  time.Time       `json:"transaction_date" db:"transaction_date"`
	DueDate          *time.Time      `json:"due_date,omitempty" db:"due_date"`
	Settled          bool            `json:"settled" db:"settled"`
	SettledAt        *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	Notes            string          `json:"notes,omitempty" db:"notes"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}
