package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"kirimin/server/internal/models"
	"kirimin/server/internal/store"
	"kirimin/server/internal/utils"
)

// RegisterRequest represents registration request body
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles account creation
func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Username, email, and password are required",
		})
	}

	// Check username and email uniqueness
	taken, err := h.userExists(c, "username", req.Username)
	if err != nil {
		return storeError(c, err)
	}
	if taken {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "Username already taken",
		})
	}
	taken, err = h.userExists(c, "email", req.Email)
	if err != nil {
		return storeError(c, err)
	}
	if taken {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "Email already registered",
		})
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to hash password",
		})
	}

	user := models.User{
		UID:          uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Friends:      []string{},
		CreatedAt:    time.Now().UTC().UnixNano(),
	}
	if err := h.St.WriteMerge(c.Context(), models.UserPath(user.UID), user.Fields()); err != nil {
		return storeError(c, err)
	}

	token, err := utils.GenerateToken(user.UID, user.Username)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to generate token",
		})
	}
	setTokenCookie(c, token)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    user,
	})
}

// Login handles credential login
func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Email and password are required",
		})
	}

	user, ok, err := h.userBy(c, "email", req.Email)
	if err != nil {
		return storeError(c, err)
	}
	if !ok || !utils.CheckPassword(user.PasswordHash, req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid email or password",
		})
	}

	token, err := utils.GenerateToken(user.UID, user.Username)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to generate token",
		})
	}
	setTokenCookie(c, token)

	return c.JSON(fiber.Map{
		"success": true,
		"data":    user,
	})
}

// GetMe returns the current authenticated user
func (h *Handler) GetMe(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "User not found",
			})
		}
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    user,
	})
}

// Logout clears the token cookie
func (h *Handler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "token",
		Value:    "",
		HTTPOnly: true,
		Secure:   false,
		SameSite: "Lax",
		MaxAge:   -1, // Delete cookie
	})

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out successfully",
	})
}

func setTokenCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     "token",
		Value:    token,
		HTTPOnly: true,
		Secure:   false, // Set to true in production with HTTPS
		SameSite: "Lax",
		MaxAge:   86400, // 24 hours
	})
}

func (h *Handler) userExists(c *fiber.Ctx, field, value string) (bool, error) {
	recs, err := h.St.Query(c.Context(), store.Query{Collection: models.UsersCollection}.
		Where(field, store.OpEqual, value))
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

func (h *Handler) userBy(c *fiber.Ctx, field, value string) (models.User, bool, error) {
	recs, err := h.St.Query(c.Context(), store.Query{Collection: models.UsersCollection}.
		Where(field, store.OpEqual, value))
	if err != nil {
		return models.User{}, false, err
	}
	if len(recs) == 0 {
		return models.User{}, false, nil
	}
	return models.UserFromRecord(recs[0]), true, nil
}
