package services

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/financas/backend/internal/models"
	"github.com/financas/backend/internal/pagination"
)

type TenantService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewTenantService(db *sql.DB) *TenantService {
	return &TenantService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type UpdateTenantRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,min=2"`
	CNPJ    *string `json:"cnpj,omitempty"`
	Email   *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
}

const tenantColumns = `id, name, cnpj, email, phone, address, active, created_at, updated_at`

// GetCurrentTenant returns the authenticated tenant
// @Summary Current tenant
// @Tags tenants
// @Produce json
// @Success 200 {object} models.Tenant
// @Failure 404 {object} ErrorResponse
// @Router /tenants/me [get]
func (ts *TenantService) GetCurrentTenant(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	tenant, err := ts.fetchTenant(r, identity.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Tenant not found", "NOT_FOUND", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch tenant", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, tenant)
}

// UpdateCurrentTenant updates the authenticated tenant's profile
// @Summary Update current tenant
// @Tags tenants
// @Accept json
// @Produce json
// @Param tenant body UpdateTenantRequest true "Fields to update"
// @Success 200 {object} models.Tenant
// @Failure 400 {object} ErrorResponse
// @Router /tenants/me [put]
func (ts *TenantService) UpdateCurrentTenant(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var req UpdateTenantRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", "VALIDATION_ERROR", http.StatusBadRequest, err)
		return
	}

	tenant, err := ts.fetchTenant(r, identity.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Tenant not found", "NOT_FOUND", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch tenant", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.CNPJ != nil {
		tenant.CNPJ = *req.CNPJ
	}
	if req.Email != nil {
		tenant.Email = *req.Email
	}
	if req.Phone != nil {
		tenant.Phone = *req.Phone
	}
	if req.Address != nil {
		tenant.Address = *req.Address
	}
	tenant.UpdatedAt = time.Now().UTC()

	_, err = ts.db.ExecContext(r.Context(), `
		UPDATE tenants SET name = $1, cnpj = $2, email = $3, phone = $4, address = $5, updated_at = $6
		WHERE id = $7`,
		tenant.Name, tenant.CNPJ, tenant.Email, tenant.Phone, tenant.Address,
		tenant.UpdatedAt, tenant.ID)
	if err != nil {
		SendErrorResponse(w, "Failed to update tenant", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, tenant)
}

// ListUsers lists the tenant's users
// @Summary List tenant users
// @Description Admin-only listing of the users belonging to the tenant.
// @Tags tenants
// @Produce json
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size (max 100)"
// @Success 200 {object} pagination.Page[models.User]
// @Failure 403 {object} ErrorResponse
// @Router /tenants/me/users [get]
func (ts *TenantService) ListUsers(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}
	params := PageParams(r)

	var total int
	if err := ts.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM users WHERE tenant_id = $1`, identity.TenantID).Scan(&total); err != nil {
		SendErrorResponse(w, "Failed to list users", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	rows, err := ts.db.QueryContext(r.Context(), `
		SELECT id, tenant_id, name, email, role, active, last_login, created_at, updated_at
		FROM users WHERE tenant_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		identity.TenantID, params.PageSize, params.Offset())
	if err != nil {
		SendErrorResponse(w, "Failed to list users", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	items := []models.User{}
	for rows.Next() {
		var (
			user      models.User
			lastLogin sql.NullTime
		)
		if err := rows.Scan(&user.ID, &user.TenantID, &user.Name, &user.Email,
			&user.Role, &user.Active, &lastLogin, &user.CreatedAt, &user.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to list users", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
			return
		}
		if lastLogin.Valid {
			user.LastLogin = &lastLogin.Time
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to list users", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, pagination.NewPage(items, params, total))
}

func (ts *TenantService) fetchTenant(r *http.Request, tenantID string) (*models.Tenant, error) {
	var (
		tenant  models.Tenant
		cnpj    sql.NullString
		email   sql.NullString
		phone   sql.NullString
		address sql.NullString
	)
	err := ts.db.QueryRowContext(r.Context(),
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, tenantID).
		Scan(&tenant.ID, &tenant.Name, &cnpj, &email, &phone, &address,
			&tenant.Active, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tenant.CNPJ = cnpj.String
	tenant.Email = email.String
	tenant.Phone = phone.String
	tenant.Address = address.String
	return &tenant, nil
}
