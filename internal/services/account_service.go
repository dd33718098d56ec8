package services

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/financas/backend/internal/models"
	"github.com/financas/backend/internal/pagination"
)

type AccountService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// CreateAccountRequest is the create payload. OpeningBalance is exact
// decimal text and seeds both opening_balance and balance.
type CreateAccountRequest struct {
	Name           string `json:"name" validate:"required"`
	Kind           string `json:"kind" validate:"required,oneof=checking savings investment credit_card"`
	OpeningBalance string `json:"openingBalance"`
	Bank           string `json:"bank,omitempty"`
	Branch         string `json:"branch,omitempty"`
	Number         string `json:"number,omitempty"`
}

// UpdateAccountRequest updates account metadata. The balance is owned by the
// ledger engine and cannot be written here.
type UpdateAccountRequest struct {
	Name   *string `json:"name,omitempty"`
	Kind   *string `json:"kind,omitempty"`
	Bank   *string `json:"bank,omitempty"`
	Branch *string `json:"branch,omitempty"`
	Number *string `json:"number,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

const accountColumns = `id, tenant_id, name, kind, opening_balance, balance, bank, branch, number, active, created_at, updated_at`

// CreateAccount registers a bank account
// @Summary Create an account
// @Tags accounts
// @Accept json
// @Produce json
// @Param account body CreateAccountRequest true "Account data"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Router /accounts [post]
func (as *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var req CreateAccountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", "VALIDATION_ERROR", http.StatusBadRequest, err)
		return
	}

	opening := decimal.Zero
	if req.OpeningBalance != "" {
		var err error
		opening, err = decimal.NewFromString(req.OpeningBalance)
		if err != nil {
			SendErrorResponse(w, "openingBalance must be a decimal number", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
	}

	now := time.Now().UTC()
	account := models.Account{
		ID:             uuid.NewString(),
		TenantID:       identity.TenantID,
		Name:           req.Name,
		Kind:           models.AccountKind(req.Kind),
		OpeningBalance: opening,
		Balance:        opening,
		Bank:           req.Bank,
		Branch:         req.Branch,
		Number:         req.Number,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := as.db.ExecContext(r.Context(), `
		INSERT INTO accounts
		(id, tenant_id, name, kind, opening_balance, balance, bank, branch, number, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		account.ID, account.TenantID, account.Name, account.Kind,
		account.OpeningBalance, account.Balance, account.Bank, account.Branch,
		account.Number, account.Active, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to create account for tenant %s: %v", identity.TenantID, err)
		SendErrorResponse(w, "Failed to create account", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	log.Printf("[ACCOUNT] Created account %s for tenant %s", account.ID, identity.TenantID)
	WriteJSON(w, http.StatusCreated, account)
}

// ListAccounts lists the tenant's accounts
// @Summary List accounts
// @Tags accounts
// @Produce json
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size (max 100)"
// @Param includeInactive query bool false "Include deactivated accounts"
// @Success 200 {object} pagination.Page[models.Account]
// @Router /accounts [get]
func (as *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}
	params := PageParams(r)

	where := `WHERE tenant_id = $1`
	if r.URL.Query().Get("includeInactive") != "true" {
		where += ` AND active = true`
	}

	var total int
	if err := as.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM accounts `+where, identity.TenantID).Scan(&total); err != nil {
		SendErrorResponse(w, "Failed to list accounts", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	rows, err := as.db.QueryContext(r.Context(),
		`SELECT `+accountColumns+` FROM accounts `+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		identity.TenantID, params.PageSize, params.Offset())
	if err != nil {
		SendErrorResponse(w, "Failed to list accounts", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	items := []models.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to list accounts", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
			return
		}
		items = append(items, *account)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to list accounts", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, pagination.NewPage(items, params, total))
}

// GetAccount returns one account
// @Summary Get account by ID
// @Tags accounts
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id} [get]
func (as *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	row := as.db.QueryRowContext(r.Context(),
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND tenant_id = $2`,
		chi.URLParam(r, "id"), identity.TenantID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Account not found", "NOT_FOUND", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch account", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, account)
}

// UpdateAccount updates account metadata
// @Summary Update an account
// @Description Update name, kind, bank metadata or active flag. The balance is never writable.
// @Tags accounts
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param account body UpdateAccountRequest true "Fields to update"
// @Success 200 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id} [put]
func (as *AccountService) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var req UpdateAccountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if req.Kind != nil && !models.ValidAccountKind(models.AccountKind(*req.Kind)) {
		SendErrorResponse(w, "Invalid account kind", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}

	row := as.db.QueryRowContext(r.Context(),
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND tenant_id = $2`,
		chi.URLParam(r, "id"), identity.TenantID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Account not found", "NOT_FOUND", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch account", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	if req.Name != nil {
		account.Name = *req.Name
	}
	if req.Kind != nil {
		account.Kind = models.AccountKind(*req.Kind)
	}
	if req.Bank != nil {
		account.Bank = *req.Bank
	}
	if req.Branch != nil {
		account.Branch = *req.Branch
	}
	if req.Number != nil {
		account.Number = *req.Number
	}
	if req.Active != nil {
		account.Active = *req.Active
	}
	account.UpdatedAt = time.Now().UTC()

	_, err = as.db.ExecContext(r.Context(), `
		UPDATE accounts
		SET name = $1, kind = $2, bank = $3, branch = $4, number = $5, active = $6, updated_at = $7
		WHERE id = $8 AND tenant_id = $9`,
		account.Name, account.Kind, account.Bank, account.Branch, account.Number,
		account.Active, account.UpdatedAt, account.ID, identity.TenantID)
	if err != nil {
		SendErrorResponse(w, "Failed to update account", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, account)
}

// DeactivateAccount soft-deletes an account
// @Summary Deactivate an account
// @Description Flip the active flag. Accounts are never hard-deleted while transactions reference them.
// @Tags accounts
// @Produce json
// @Param id path string true "Account ID"
// @Success 204 "No Content"
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id} [delete]
func (as *AccountService) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	res, err := as.db.ExecContext(r.Context(),
		`UPDATE accounts SET active = false, updated_at = NOW() WHERE id = $1 AND tenant_id = $2`,
		chi.URLParam(r, "id"), identity.TenantID)
	if err != nil {
		SendErrorResponse(w, "Failed to deactivate account", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		SendErrorResponse(w, "Account not found", "NOT_FOUND", http.StatusNotFound, nil)
		return
	}

	log.Printf("[ACCOUNT] Deactivated account %s for tenant %s", chi.URLParam(r, "id"), identity.TenantID)
	w.WriteHeader(http.StatusNoContent)
}

// TotalBalance sums the balances of the tenant's active accounts
// @Summary Total balance
// @Tags accounts
// @Produce json
// @Success 200 {object} map[string]string
// @Router /accounts/total-balance [get]
func (as *AccountService) TotalBalance(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var total decimal.Decimal
	err := as.db.QueryRowContext(r.Context(),
		`SELECT COALESCE(SUM(balance), 0) FROM accounts WHERE tenant_id = $1 AND active = true`,
		identity.TenantID).Scan(&total)
	if err != nil {
		SendErrorResponse(w, "Failed to compute total balance", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"totalBalance": total.String()})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account models.Account
		bank    sql.NullString
		branch  sql.NullString
		number  sql.NullString
	)
	err := row.Scan(&account.ID, &account.TenantID, &account.Name, &account.Kind,
		&account.OpeningBalance, &account.Balance, &bank, &branch, &number,
		&account.Active, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	account.Bank = bank.String
	account.Branch = branch.String
	account.Number = number.String
	return &account, nil
}
