package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qaaqit/identity-service/internal/auth/credentials"
	"github.com/qaaqit/identity-service/internal/auth/provider"
	"github.com/qaaqit/identity-service/internal/auth/whatsapp"
	"github.com/qaaqit/identity-service/internal/identity"
	"github.com/qaaqit/identity-service/internal/identity/resolver"
	"github.com/qaaqit/identity-service/internal/logger"
	"github.com/qaaqit/identity-service/internal/session"
)

const sessionTTL = 24 * time.Hour

// Handler owns every login door. Each door normalizes its payload into
// an identity.Login, hands it to the resolver, and turns the resolved
// user into a session; no door carries mapping logic of its own.
type Handler struct {
	providers      *provider.Registry
	sessionStore   session.Store
	resolver       resolver.Resolver
	credentials    *credentials.Service
	whatsappCodes  *whatsapp.Verifier
	whatsappSender whatsapp.Sender
}

func NewHandler(
	registry *provider.Registry,
	sessionStore session.Store,
	resolver resolver.Resolver,
	credentialService *credentials.Service,
	whatsappCodes *whatsapp.Verifier,
	whatsappSender whatsapp.Sender,
) *Handler {
	return &Handler{
		providers:      registry,
		sessionStore:   sessionStore,
		resolver:       resolver,
		credentials:    credentialService,
		whatsappCodes:  whatsappCodes,
		whatsappSender: whatsappSender,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/oauth/login/:provider", h.oauthLogin)
	r.GET("/oauth/callback/:provider", h.oauthCallback)
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/whatsapp/otp", h.WhatsAppRequestCode)
	r.POST("/auth/whatsapp/verify", h.WhatsAppVerify)
	r.POST("/auth/logout", h.Logout)
}

func (h *Handler) oauthLogin(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	state := generateState(c)
	_, codeChallenge := generatePKCE(c)

	authURL := p.AuthCodeURL(state, codeChallenge)
	c.Redirect(http.StatusFound, authURL)
}

func (h *Handler) oauthCallback(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	if !validateState(c) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "invalid state",
		})
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("oauth callback returned error", map[string]any{
			"provider": providerName,
			"error":    errParam,
			"desc":     c.Query("error_description"),
		})
		c.Redirect(http.StatusFound, "/login")
		return
	}

	code := c.Query("code")
	if code == "" {
		logger.Error("oauth callback missing code and error", nil)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	codeVerifier := getPKCEVerifier(c)
	if codeVerifier == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "missing pkce verifier",
		})
		return
	}

	login, err := p.ExchangeCode(c.Request.Context(), code, codeVerifier)
	if err != nil {
		logger.Error("oauth code exchange failed", map[string]any{
			"provider": providerName,
			"error":    err.Error(),
		})
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "authentication failed",
		})
		return
	}

	h.finishLogin(c, *login)
}

// finishLogin resolves the normalized login to exactly one user and
// establishes the session. Shared by every door.
func (h *Handler) finishLogin(c *gin.Context, login identity.Login) {
	user, err := h.resolver.Resolve(c.Request.Context(), login)
	if err != nil {
		logger.Error("identity resolution failed", map[string]any{
			"provider": login.Provider,
			"error":    err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to resolve user",
		})
		return
	}

	if err := h.establishSession(c, user.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create session",
		})
		return
	}

	logger.Info("login succeeded", map[string]any{
		"provider": login.Provider,
		"user_id":  user.ID,
		"ip":       c.ClientIP(),
	})

	c.JSON(http.StatusOK, gin.H{
		"status": "authenticated",
		"user":   user,
	})
}

func (h *Handler) establishSession(c *gin.Context, userID string) error {
	sessionID, err := session.GenerateID()
	if err != nil {
		return err
	}

	now := time.Now()
	expiresAt := now.Add(sessionTTL)

	err = h.sessionStore.Create(c.Request.Context(), session.Session{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return err
	}

	session.SetCookie(c.Writer, sessionID, expiresAt, session.CookieOptions{
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (h *Handler) Logout(c *gin.Context) {
	cookie, err := c.Request.Cookie(session.CookieName)
	if err == nil && cookie.Value != "" {
		// best-effort: the cookie is cleared regardless
		_ = h.sessionStore.Delete(c.Request.Context(), cookie.Value)
	}

	session.ClearCookie(c.Writer, session.CookieOptions{
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	c.Status(http.StatusNoContent)
}
