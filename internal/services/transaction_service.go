package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/financas/backend/internal/ledger"
	"github.com/financas/backend/internal/models"
)

type TransactionService struct {
	engine    *ledger.Engine
	redis     *redis.Client
	validator *ValidationHelper
}

func NewTransactionService(db *sql.DB, redisClient *redis.Client) *TransactionService {
	return &TransactionService{
		engine:    ledger.NewEngine(db),
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// CreateTransactionRequest is the create payload. Amount is exact decimal
// text; dates are ISO-8601.
type CreateTransactionRequest struct {
	Description      string `json:"description" validate:"required"`
	Type             string `json:"type" validate:"required,oneof=income expense transfer"`
	Amount           string `json:"amount" validate:"required"`
	AccountID        string `json:"accountId" validate:"required"`
	CounterAccountID string `json:"counterAccountId,omitempty"`
	CategoryID       string `json:"categoryId,omitempty"`
	TransactionDate  string `json:"transactionDate" validate:"required"`
	DueDate          string `json:"dueDate,omitempty"`
	Settled          bool   `json:"settled"`
	SettledAt        string `json:"settledAt,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// UpdateTransactionRequest is the partial update payload; absent fields are
// left unchanged.
type UpdateTransactionRequest struct {
	Description      *string `json:"description,omitempty"`
	Type             *string `json:"type,omitempty"`
	Amount           *string `json:"amount,omitempty"`
	AccountID        *string `json:"accountId,omitempty"`
	CounterAccountID *string `json:"counterAccountId,omitempty"`
	CategoryID       *string `json:"categoryId,omitempty"`
	TransactionDate  *string `json:"transactionDate,omitempty"`
	DueDate          *string `json:"dueDate,omitempty"`
	Settled          *bool   `json:"settled,omitempty"`
	SettledAt        *string `json:"settledAt,omitempty"`
	Notes            *string `json:"notes,omitempty"`
}

// MarkPaidRequest carries the settlement timestamp.
type MarkPaidRequest struct {
	SettledAt string `json:"settledAt" validate:"required"`
}

// CreateTransaction posts a new transaction
// @Summary Create a transaction
// @Description Record a transaction and apply its effect to the account balance
// @Tags transactions
// @Accept json
// @Produce json
// @Param transaction body CreateTransactionRequest true "Transaction data"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions [post]
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var req CreateTransactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", "VALIDATION_ERROR", http.StatusBadRequest, err)
		return
	}

	draft, err := ts.buildDraft(&req)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	record, err := ts.engine.PostTransaction(r.Context(), identity.TenantID, *draft)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	log.Printf("[LEDGER] Posted transaction %s (%s %s) for tenant %s", record.ID, record.Type, record.Amount, identity.TenantID)
	WriteJSON(w, http.StatusCreated, record)
}

// ListTransactions lists transactions with filters and pagination
// @Summary List transactions
// @Description List the tenant's transactions, newest first
// @Tags transactions
// @Produce json
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size (max 100)"
// @Param accountId query string false "Filter by account"
// @Param categoryId query string false "Filter by category"
// @Param type query string false "Filter by type"
// @Param from query string false "Start of date range (RFC 3339)"
// @Param to query string false "End of date range (RFC 3339)"
// @Param settled query bool false "Filter by settlement status"
// @Success 200 {object} pagination.Page[models.Transaction]
// @Failure 400 {object} ErrorResponse
// @Router /transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	filter := ledger.Filter{
		AccountID:  r.URL.Query().Get("accountId"),
		CategoryID: r.URL.Query().Get("categoryId"),
		Type:       models.TransactionType(r.URL.Query().Get("type")),
	}
	if filter.Type != "" && !models.ValidTransactionType(filter.Type) {
		SendErrorResponse(w, "Invalid type filter", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			SendErrorResponse(w, "Invalid from date", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
		filter.From = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			SendErrorResponse(w, "Invalid to date", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
		filter.To = &t
	}
	if v := r.URL.Query().Get("settled"); v != "" {
		settled, err := strconv.ParseBool(v)
		if err != nil {
			SendErrorResponse(w, "Invalid settled filter", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
		filter.Settled = &settled
	}

	page, err := ts.engine.ListTransactions(r.Context(), identity.TenantID, filter, PageParams(r))
	if err != nil {
		SendEngineError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, page)
}

// GetTransaction returns one transaction
// @Summary Get transaction by ID
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{id} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	record, err := ts.engine.GetTransaction(r.Context(), identity.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		SendEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// UpdateTransaction applies a partial update
// @Summary Update a transaction
// @Description Update a transaction, reconciling balance effects when amount, type or account change
// @Tags transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID"
// @Param transaction body UpdateTransactionRequest true "Fields to update"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{id} [put]
func (ts *TransactionService) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var req UpdateTransactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}

	patch, err := ts.buildPatch(&req)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	record, err := ts.engine.UpdateTransaction(r.Context(), identity.TenantID, chi.URLParam(r, "id"), *patch)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	log.Printf("[LEDGER] Updated transaction %s for tenant %s", record.ID, identity.TenantID)
	WriteJSON(w, http.StatusOK, record)
}

// DeleteTransaction removes a transaction and reverses its balance effect
// @Summary Delete a transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 204 "No Content"
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{id} [delete]
func (ts *TransactionService) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := ts.engine.DeleteTransaction(r.Context(), identity.TenantID, id); err != nil {
		SendEngineError(w, err)
		return
	}

	log.Printf("[LEDGER] Deleted transaction %s for tenant %s", id, identity.TenantID)
	w.WriteHeader(http.StatusNoContent)
}

// MarkAsPaid settles a transaction
// @Summary Mark a transaction as paid
// @Description Settle a transaction; the balance effect was applied at posting time and does not change
// @Tags transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID"
// @Param settlement body MarkPaidRequest true "Settlement timestamp"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /transactions/{id}/pay [post]
func (ts *TransactionService) MarkAsPaid(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var req MarkPaidRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", "VALIDATION_ERROR", http.StatusBadRequest, err)
		return
	}
	settledAt, err := time.Parse(time.RFC3339, req.SettledAt)
	if err != nil {
		SendErrorResponse(w, "Invalid settledAt date", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}

	record, err := ts.engine.MarkAsPaid(r.Context(), identity.TenantID, chi.URLParam(r, "id"), settledAt)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, record)
}

// GetSummary returns income/expense/net aggregates
// @Summary Balance summary
// @Description Aggregate income, expense and net balance, cross-checked against account balances
// @Tags transactions
// @Produce json
// @Param from query string false "Start of date range (RFC 3339)"
// @Param to query string false "End of date range (RFC 3339)"
// @Success 200 {object} ledger.Summary
// @Router /transactions/summary [get]
func (ts *TransactionService) GetSummary(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			SendErrorResponse(w, "Invalid from date", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
		from = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			SendErrorResponse(w, "Invalid to date", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
		to = &t
	}

	summary, err := ts.engine.BalanceSummary(r.Context(), identity.TenantID, from, to)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, summary)
}

// ChargeQR renders a payment QR code for an unsettled transaction
// @Summary Payment QR code
// @Description Generate a QR code encoding a charge payload for an open transaction
// @Tags transactions
// @Produce png
// @Param id path string true "Transaction ID"
// @Success 200 {file} byte "PNG image"
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /transactions/{id}/qrcode [get]
func (ts *TransactionService) ChargeQR(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	record, err := ts.engine.GetTransaction(r.Context(), identity.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		SendEngineError(w, err)
		return
	}
	if record.Settled {
		SendErrorResponse(w, "Transaction already settled", "ALREADY_SETTLED", http.StatusConflict, nil)
		return
	}

	payload := map[string]any{
		"transactionId": record.ID,
		"description":   record.Description,
		"amount":        record.Amount.String(),
		"issuedAt":      time.Now().UTC().Format(time.RFC3339),
	}
	if record.DueDate != nil {
		payload["dueDate"] = record.DueDate.Format(time.RFC3339)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		SendErrorResponse(w, "Failed to build charge payload", "INTERNAL_ERROR", http.StatusInternalServerError, nil)
		return
	}

	if ts.redis != nil {
		key := fmt.Sprintf("charge:%s", record.ID)
		if err := ts.redis.Set(r.Context(), key, data, 15*time.Minute).Err(); err != nil {
			log.Printf("[LEDGER] Failed to cache charge payload for %s: %v", record.ID, err)
		}
	}

	img, err := qrcode.Encode(string(data), qrcode.Medium, 256)
	if err != nil {
		SendErrorResponse(w, "Failed to generate QR code", "INTERNAL_ERROR", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(img)
}

func (ts *TransactionService) buildDraft(req *CreateTransactionRequest) (*ledger.Draft, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, &ledger.ValidationError{Field: "amount", Reason: "must be a decimal number"}
	}
	txDate, err := time.Parse(time.RFC3339, req.TransactionDate)
	if err != nil {
		return nil, &ledger.ValidationError{Field: "transaction_date", Reason: "must be an RFC 3339 timestamp"}
	}

	draft := ledger.Draft{
		Description:      req.Description,
		Type:             models.TransactionType(req.Type),
		Amount:           amount,
		AccountID:        req.AccountID,
		CounterAccountID: req.CounterAccountID,
		CategoryID:       req.CategoryID,
		TransactionDate:  txDate,
		Settled:          req.Settled,
		Notes:            req.Notes,
	}
	if req.DueDate != "" {
		t, err := time.Parse(time.RFC3339, req.DueDate)
		if err != nil {
			return nil, &ledger.ValidationError{Field: "due_date", Reason: "must be an RFC 3339 timestamp"}
		}
		draft.DueDate = &t
	}
	if req.SettledAt != "" {
		t, err := time.Parse(time.RFC3339, req.SettledAt)
		if err != nil {
			return nil, &ledger.ValidationError{Field: "settled_at", Reason: "must be an RFC 3339 timestamp"}
		}
		draft.SettledAt = &t
	}
	return &draft, nil
}

func (ts *TransactionService) buildPatch(req *UpdateTransactionRequest) (*ledger.Patch, error) {
	patch := ledger.Patch{
		Description:      req.Description,
		AccountID:        req.AccountID,
		CounterAccountID: req.CounterAccountID,
		CategoryID:       req.CategoryID,
		Notes:            req.Notes,
		Settled:          req.Settled,
	}
	if req.Type != nil {
		t := models.TransactionType(*req.Type)
		patch.Type = &t
	}
	if req.Amount != nil {
		amount, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			return nil, &ledger.ValidationError{Field: "amount", Reason: "must be a decimal number"}
		}
		patch.Amount = &amount
	}
	if req.TransactionDate != nil {
		t, err := time.Parse(time.RFC3339, *req.TransactionDate)
		if err != nil {
			return nil, &ledger.ValidationError{Field: "transaction_date", Reason: "must be an RFC 3339 timestamp"}
		}
		patch.TransactionDate = &t
	}
	if req.DueDate != nil {
		if *req.DueDate == "" {
			patch.DueDate = &time.Time{}
		} else {
			t, err := time.Parse(time.RFC3339, *req.DueDate)
			if err != nil {
				return nil, &ledger.ValidationError{Field: "due_date", Reason: "must be an RFC 3339 timestamp"}
			}
			patch.DueDate = &t
		}
	}
	if req.SettledAt != nil {
		t, err := time.Parse(time.RFC3339, *req.SettledAt)
		if err != nil {
			return nil, &ledger.ValidationError{Field: "settled_at", Reason: "must be an RFC 3339 timestamp"}
		}
		patch.SettledAt = &t
	}
	return &patch, nil
}
