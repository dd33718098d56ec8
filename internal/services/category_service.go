package services

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/financas/backend/internal/models"
	"github.com/financas/backend/internal/pagination"
)

type CategoryService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewCategoryService(db *sql.DB) *CategoryService {
	return &CategoryService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type CreateCategoryRequest struct {
	Name  string `json:"name" validate:"required"`
	Type  string `json:"type" validate:"required,oneof=income expense"`
	Color string `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Icon  string `json:"icon,omitempty"`
}

type UpdateCategoryRequest struct {
	Name   *string `json:"name,omitempty"`
	Color  *string `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Icon   *string `json:"icon,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

const categoryColumns = `id, tenant_id, name, type, color, icon, active, created_at, updated_at`

// CreateCategory registers a transaction category
// @Summary Create a category
// @Tags categories
// @Accept json
// @Produce json
// @Param category body CreateCategoryRequest true "Category data"
// @Success 201 {object} models.Category
// @Failure 400 {object} ErrorResponse
// @Router /categories [post]
func (cs *CategoryService) CreateCategory(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var req CreateCategoryRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", "VALIDATION_ERROR", http.StatusBadRequest, err)
		return
	}

	now := time.Now().UTC()
	category := models.Category{
		ID:        uuid.NewString(),
		TenantID:  identity.TenantID,
		Name:      req.Name,
		Type:      models.CategoryType(req.Type),
		Color:     req.Color,
		Icon:      req.Icon,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := cs.db.ExecContext(r.Context(), `
		INSERT INTO categories (id, tenant_id, name, type, color, icon, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		category.ID, category.TenantID, category.Name, category.Type,
		category.Color, category.Icon, category.Active, category.CreatedAt, category.UpdatedAt)
	if err != nil {
		log.Printf("[CATEGORY] Failed to create category for tenant %s: %v", identity.TenantID, err)
		SendErrorResponse(w, "Failed to create category", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusCreated, category)
}

// ListCategories lists the tenant's categories
// @Summary List categories
// @Tags categories
// @Produce json
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size (max 100)"
// @Param type query string false "Filter by type (income or expense)"
// @Success 200 {object} pagination.Page[models.Category]
// @Router /categories [get]
func (cs *CategoryService) ListCategories(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}
	params := PageParams(r)

	where := `WHERE tenant_id = $1 AND active = true`
	args := []any{identity.TenantID}
	if t := r.URL.Query().Get("type"); t != "" {
		if t != string(models.CategoryIncome) && t != string(models.CategoryExpense) {
			SendErrorResponse(w, "type must be income or expense", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
		where += ` AND type = $2`
		args = append(args, t)
	}

	var total int
	if err := cs.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM categories `+where, args...).Scan(&total); err != nil {
		SendErrorResponse(w, "Failed to list categories", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	query := `SELECT ` + categoryColumns + ` FROM categories ` + where +
		` ORDER BY name ASC LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, params.PageSize, params.Offset())

	rows, err := cs.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		SendErrorResponse(w, "Failed to list categories", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	items := []models.Category{}
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to list categories", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
			return
		}
		items = append(items, *category)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to list categories", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, pagination.NewPage(items, params, total))
}

// GetCategory returns one category
// @Summary Get category by ID
// @Tags categories
// @Produce json
// @Param id path string true "Category ID"
// @Success 200 {object} models.Category
// @Failure 404 {object} ErrorResponse
// @Router /categories/{id} [get]
func (cs *CategoryService) GetCategory(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	row := cs.db.QueryRowContext(r.Context(),
		`SELECT `+categoryColumns+` FROM categories WHERE id = $1 AND tenant_id = $2`,
		chi.URLParam(r, "id"), identity.TenantID)
	category, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Category not found", "NOT_FOUND", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch category", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, category)
}

// UpdateCategory updates category metadata
// @Summary Update a category
// @Description Update name, color, icon or active flag. The type is fixed at creation.
// @Tags categories
// @Accept json
// @Produce json
// @Param id path string true "Category ID"
// @Param category body UpdateCategoryRequest true "Fields to update"
// @Success 200 {object} models.Category
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /categories/{id} [put]
func (cs *CategoryService) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var req UpdateCategoryRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", "VALIDATION_ERROR", http.StatusBadRequest, err)
		return
	}

	row := cs.db.QueryRowContext(r.Context(),
		`SELECT `+categoryColumns+` FROM categories WHERE id = $1 AND tenant_id = $2`,
		chi.URLParam(r, "id"), identity.TenantID)
	category, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Category not found", "NOT_FOUND", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch category", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	if req.Name != nil {
		category.Name = *req.Name
	}
	if req.Color != nil {
		category.Color = *req.Color
	}
	if req.Icon != nil {
		category.Icon = *req.Icon
	}
	if req.Active != nil {
		category.Active = *req.Active
	}
	category.UpdatedAt = time.Now().UTC()

	_, err = cs.db.ExecContext(r.Context(), `
		UPDATE categories SET name = $1, color = $2, icon = $3, active = $4, updated_at = $5
		WHERE id = $6 AND tenant_id = $7`,
		category.Name, category.Color, category.Icon, category.Active,
		category.UpdatedAt, category.ID, identity.TenantID)
	if err != nil {
		SendErrorResponse(w, "Failed to update category", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, category)
}

// DeactivateCategory soft-deletes a category
// @Summary Deactivate a category
// @Description Flip the active flag. Existing transactions keep their category reference.
// @Tags categories
// @Produce json
// @Param id path string true "Category ID"
// @Success 204 "No Content"
// @Failure 404 {object} ErrorResponse
// @Router /categories/{id} [delete]
func (cs *CategoryService) DeactivateCategory(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	res, err := cs.db.ExecContext(r.Context(),
		`UPDATE categories SET active = false, updated_at = NOW() WHERE id = $1 AND tenant_id = $2`,
		chi.URLParam(r, "id"), identity.TenantID)
	if err != nil {
		SendErrorResponse(w, "Failed to deactivate category", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		SendErrorResponse(w, "Category not found", "NOT_FOUND", http.StatusNotFound, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func scanCategory(row rowScanner) (*models.Category, error) {
	var (
		category models.Category
		color    sql.NullString
		icon     sql.NullString
	)
	err := row.Scan(&category.ID, &category.TenantID, &category.Name, &category.Type,
		&color, &icon, &category.Active, &category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		return nil, err
	}
	category.Color = color.String
	category.Icon = icon.String
	return &category, nil
}
