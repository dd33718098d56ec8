package models

import "time"

// CategoryType restricts categories to income or expense. A category's type
// must match the type of every transaction that references it; the check is
// enforced at transaction write time.
type CategoryType string

const (
	CategoryIncome  CategoryType = "income"
	CategoryExpense CategoryType = "expense"
)

// ValidCategoryType reports whether t is income or expense.
func ValidCategoryType(t CategoryType) bool {
	return t == CategoryIncome || t == CategoryExpense
}

// Category is a descriptive tag for transactions. It carries no balance
// effect.
type Category struct {
	ID        string       `json:"id" db:"id"`
	TenantID  string       `json:"tenant_id" db:"tenant_id"`
	Name      string       `json:"name" db:"name"`
	Type      CategoryType `json:"type" db:"type"`
	Color     string       `json:"color,omitempty" db:"color"`
	Icon      string       `json:"icon,omitempty" db:"icon"`
	Active    bool         `json:"active" db:"active"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}
