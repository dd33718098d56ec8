package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/financas/backend/internal/ledger"
	"github.com/financas/backend/internal/middleware"
	"github.com/financas/backend/internal/models"
	"github.com/financas/backend/internal/pagination"
)

// ErrorResponse is the JSON error envelope. Code is a stable
// machine-readable identifier; Error is the human-readable message.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message, code string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message, Code: code}
	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendEngineError maps a ledger engine error to its HTTP status and envelope.
func SendEngineError(w http.ResponseWriter, err error) {
	code := ledger.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case "VALIDATION_ERROR", "ACCOUNT_INACTIVE":
		status = http.StatusBadRequest
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "ALREADY_SETTLED":
		status = http.StatusConflict
	case "STORAGE_UNAVAILABLE":
		status = http.StatusServiceUnavailable
	}

	message := "Operation failed"
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		message = ve.Error()
	case code != "INTERNAL_ERROR" && code != "STORAGE_UNAVAILABLE" && code != "BALANCE_INVARIANT_VIOLATION":
		message = err.Error()
	case code == "STORAGE_UNAVAILABLE":
		message = "Storage temporarily unavailable"
	}

	SendErrorResponse(w, message, code, status, nil)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes a single JSON object from the request body, rejecting
// unknown fields and trailing content.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must only contain a single JSON object")
	}
	return nil
}

// RequireIdentity fetches the authenticated identity or writes a 401.
func RequireIdentity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
	}
	return identity, ok
}

// PageParams reads page/pageSize query parameters with defaults and bounds.
func PageParams(r *http.Request) pagination.Params {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	return pagination.Normalize(page, pageSize)
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
