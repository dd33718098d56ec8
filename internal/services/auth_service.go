package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/financas/backend/internal/models"
)

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// RegisterRequest creates a tenant together with its first admin user.
type RegisterRequest struct {
	TenantName string `json:"tenantName" validate:"required,min=2" example:"Smith household"`
	Name       string `json:"name" validate:"required,min=2" example:"Jane Smith"`
	Email      string `json:"email" validate:"required,email" example:"jane@example.com"`
	Password   string `json:"password" validate:"required,min=8" example:"password123"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"jane@example.com"`
	Password string `json:"password" validate:"required" example:"password123"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// AuthResponse carries the token pair plus the authenticated user.
type AuthResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         models.User `json:"user"`
}

// Register creates a tenant and its admin user
// @Summary Register a new tenant
// @Description Create a tenant and its first admin user in a single step
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	var req RegisterRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", "VALIDATION_ERROR", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "An internal error occurred", "INTERNAL_ERROR", http.StatusInternalServerError, nil)
		return
	}

	now := time.Now().UTC()
	tenant := models.Tenant{
		ID:        uuid.NewString(),
		Name:      req.TenantName,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	user := models.User{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Name:      req.Name,
		Email:     strings.ToLower(req.Email),
		Role:      models.RoleAdmin,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Tenant and admin user are created together or not at all.
	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to register", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO tenants (id, name, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		tenant.ID, tenant.Name, tenant.Active, tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		log.Printf("[AUTH] Tenant creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to register", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	_, err = tx.Exec(`
		INSERT INTO users (id, tenant_id, name, email, password, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.TenantID, user.Name, user.Email, hashedPassword, user.Role,
		user.Active, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		log.Printf("[AUTH] User creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Email already exists", "EMAIL_EXISTS", http.StatusConflict, nil)
		return
	}

	if err = tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to register", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	log.Printf("[AUTH] Tenant %s registered with admin user %s", tenant.ID, user.ID)
	s.respondWithTokens(w, http.StatusCreated, user)
}

// Login authenticates a user
// @Summary Login
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", "VALIDATION_ERROR", http.StatusBadRequest, err)
		return
	}

	var (
		user           models.User
		hashedPassword string
	)
	err := s.db.QueryRow(`
		SELECT id, tenant_id, name, email, password, role, created_at, updated_at
		FROM users WHERE email = $1 AND active = true`,
		strings.ToLower(req.Email)).Scan(&user.ID, &user.TenantID, &user.Name,
		&user.Email, &hashedPassword, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		log.Printf("[AUTH] User not found for email: %s", req.Email)
		SendErrorResponse(w, "Invalid credentials", "INVALID_CREDENTIALS", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for user: %s", req.Email)
		SendErrorResponse(w, "Invalid credentials", "INVALID_CREDENTIALS", http.StatusUnauthorized, nil)
		return
	}

	if _, err := s.db.Exec(`UPDATE users SET last_login = NOW() WHERE id = $1`, user.ID); err != nil {
		log.Printf("[AUTH] Failed to record last login for %s: %v", user.ID, err)
	}

	log.Printf("[AUTH] Login successful for user %s", user.ID)
	s.respondWithTokens(w, http.StatusOK, user)
}

// Refresh exchanges a refresh token for a new token pair
// @Summary Refresh tokens
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh request"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (s *AuthService) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", "VALIDATION_ERROR", http.StatusBadRequest, err)
		return
	}

	userID, err := s.validateRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		log.Printf("[AUTH] Refresh token rejected: %v", err)
		SendErrorResponse(w, "Invalid refresh token", "INVALID_TOKEN", http.StatusUnauthorized, nil)
		return
	}

	var user models.User
	err = s.db.QueryRow(`
		SELECT id, tenant_id, name, email, role, created_at, updated_at
		FROM users WHERE id = $1`,
		userID).Scan(&user.ID, &user.TenantID, &user.Name, &user.Email,
		&user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		SendErrorResponse(w, "Invalid refresh token", "INVALID_TOKEN", http.StatusUnauthorized, nil)
		return
	}

	// The used refresh token is retired so it cannot be replayed.
	if s.redis != nil {
		key := fmt.Sprintf("blacklist:%s", req.RefreshToken)
		expiry := time.Duration(viper.GetInt("jwt.refresh_expiry_hours")) * time.Hour
		if err := s.redis.Set(r.Context(), key, "1", expiry).Err(); err != nil {
			log.Printf("[AUTH] Failed to blacklist refresh token: %v", err)
		}
	}

	s.respondWithTokens(w, http.StatusOK, user)
}

// Logout blacklists the presented access token
// @Summary Logout
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) == 2 && parts[0] == "Bearer" && s.redis != nil {
		ctx := context.Background()
		key := fmt.Sprintf("blacklist:%s", parts[1])
		// Blacklist token until its expiration
		expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
		if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
			log.Printf("[AUTH] Failed to blacklist token: %v", err)
		}
	}

	WriteJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// GetCurrentUser returns the authenticated user
// @Summary Current user
// @Tags auth
// @Produce json
// @Success 200 {object} models.User
// @Failure 401 {object} ErrorResponse
// @Router /auth/me [get]
func (s *AuthService) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var user models.User
	err := s.db.QueryRow(`
		SELECT id, tenant_id, name, email, role, created_at, updated_at
		FROM users WHERE id = $1 AND tenant_id = $2`,
		identity.UserID, identity.TenantID).Scan(&user.ID, &user.TenantID,
		&user.Name, &user.Email, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "User not found", "NOT_FOUND", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch user", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, nil)
		return
	}

	WriteJSON(w, http.StatusOK, user)
}

func (s *AuthService) respondWithTokens(w http.ResponseWriter, status int, user models.User) {
	accessToken, err := generateAccessToken(user)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", "INTERNAL_ERROR", http.StatusInternalServerError, nil)
		return
	}
	refreshToken, err := generateRefreshToken(user)
	if err != nil {
		log.Printf("[AUTH] Refresh token generation failed for user %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", "INTERNAL_ERROR", http.StatusInternalServerError, nil)
		return
	}

	WriteJSON(w, status, AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

func generateAccessToken(user models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       user.ID,
		"tenant_id": user.TenantID,
		"role":      string(user.Role),
		"exp":       time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func generateRefreshToken(user models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID,
		"type": "refresh",
		"exp":  time.Now().Add(time.Duration(viper.GetInt("jwt.refresh_expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func (s *AuthService) validateRefreshToken(ctx context.Context, tokenString string) (string, error) {
	if s.redis != nil {
		key := fmt.Sprintf("blacklist:%s", tokenString)
		if exists, err := s.redis.Exists(ctx, key).Result(); err == nil && exists > 0 {
			return "", fmt.Errorf("token is blacklisted")
		}
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	if kind, _ := claims["type"].(string); kind != "refresh" {
		return "", fmt.Errorf("not a refresh token")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("missing subject")
	}
	return sub, nil
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
