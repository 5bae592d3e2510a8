package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qaaqit/identity-service/internal/auth/credentials"
	"github.com/qaaqit/identity-service/internal/logger"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a legacy password account. The email is resolved
// through consolidation first: someone who already logged in via
// Google with the same email gets credentials attached to their
// existing user, not a second one.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	login := credentials.LegacyLogin(req.Email, req.DisplayName)

	user, err := h.resolver.Resolve(c.Request.Context(), login)
	if err != nil {
		logger.Error("identity resolution failed", map[string]any{
			"provider": login.Provider,
			"error":    err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve user"})
		return
	}

	if err := h.credentials.Create(c.Request.Context(), user.ID, req.Password); err != nil {
		switch err {
		case credentials.ErrAlreadyRegistered:
			c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	if err := h.establishSession(c, user.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "registered",
		"user":   user,
	})
}

// Login authenticates against stored credentials, then routes the
// legacy tuple through the resolver like every other door.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	login, err := h.credentials.Authenticate(
		c.Request.Context(),
		req.Email,
		req.Password,
	)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	h.finishLogin(c, *login)
}
