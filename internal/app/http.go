package app

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/qaaqit/identity-service/internal/auth/credentials"
	"github.com/qaaqit/identity-service/internal/auth/handler"
	"github.com/qaaqit/identity-service/internal/auth/provider"
	"github.com/qaaqit/identity-service/internal/auth/provider/google"
	"github.com/qaaqit/identity-service/internal/auth/provider/qaaqid"
	"github.com/qaaqit/identity-service/internal/auth/whatsapp"
	"github.com/qaaqit/identity-service/internal/config"
	"github.com/qaaqit/identity-service/internal/identity/consolidate"
	"github.com/qaaqit/identity-service/internal/identity/matcher"
	"github.com/qaaqit/identity-service/internal/identity/merge"
	"github.com/qaaqit/identity-service/internal/identity/resolver"
	"github.com/qaaqit/identity-service/internal/identity/store"
	"github.com/qaaqit/identity-service/internal/middleware"
	"github.com/qaaqit/identity-service/internal/session"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Identity core
	// ----------------------------

	identityStore := store.NewPostgres(infra.DB)
	identityMatcher := matcher.New(identityStore)
	engine := consolidate.NewEngine(identityStore, identityMatcher)

	identityResolver := resolver.NewPolicy(
		resolver.NewConsolidating(engine),
		resolver.NewFallback(identityStore),
	)

	mergeExecutor := merge.NewExecutor(identityStore)

	// ----------------------------
	// Login doors
	// ----------------------------

	sessionStore := session.NewRedisStore(infra.Redis.Client)
	credentialService := credentials.NewService(infra.DB)
	whatsappVerifier := whatsapp.NewVerifier(infra.Redis.Client)

	googleProvider, err := google.New(
		ctx,
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURL,
	)
	if err != nil {
		return nil, nil, err
	}

	qaaqidProvider, err := qaaqid.New(
		ctx,
		cfg.QaaqIDIssuer,
		cfg.QaaqIDClientID,
		cfg.QaaqIDRedirectURL,
	)
	if err != nil {
		return nil, nil, err
	}

	registry := provider.NewRegistry(
		googleProvider,
		qaaqidProvider,
	)

	authHandler := handler.NewHandler(
		registry,
		sessionStore,
		identityResolver,
		credentialService,
		whatsappVerifier,
		whatsapp.LogSender{},
	)

	adminHandler := handler.NewAdminHandler(mergeExecutor)
	authMiddleware := middleware.NewAuthMiddleware(sessionStore)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	authHandler.RegisterRoutes(router)
	adminHandler.RegisterRoutes(router, middleware.GinRequireAdminToken(cfg.AdminToken))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(middleware.GinRequireAuth(authMiddleware))

	api.GET("/me", func(c *gin.Context) {
		userID, _ := middleware.UserIDFromContext(c.Request.Context())
		user, err := identityStore.GetUser(c.Request.Context(), userID)
		if err != nil || user == nil {
			c.JSON(404, gin.H{"error": "user not found"})
			return
		}
		c.JSON(200, user)
	})

	return router, func() error {
		return infra.DB.Close()
	}, nil
}
