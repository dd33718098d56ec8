package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind is the closed set of supported account types.
type AccountKind string

const (
	AccountChecking   AccountKind = "checking"
	AccountSavings    AccountKind = "savings"
	AccountInvestment AccountKind = "investment"
	AccountCreditCard AccountKind = "credit_card"
)

// ValidAccountKind reports whether k is one of the supported kinds.
func ValidAccountKind(k AccountKind) bool {
	switch k {
	case AccountChecking, AccountSavings, AccountInvestment, AccountCreditCard:
		return true
	}
	return false
}

// Account is a bank account owned by exactly one tenant. Balance must always
// equal OpeningBalance plus the signed effect of every transaction posted
// against it.
type Account struct {
	ID             string          `json:"id" db:"id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	Name           string          `json:"name" db:"name"`
	Kind           AccountKind     `json:"kind" db:"kind"`
	OpeningBalance decimal.Decimal `json:"opening_balance" db:"opening_balance"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	Bank           string          `json:"bank,omitempty" db:"bank"`
	Branch         string          `json:"branch,omitempty" db:"branch"`
	Number         string          `json:"number,omitempty" db:"number"`
	Active         bool            `json:"active" db:"active"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}
