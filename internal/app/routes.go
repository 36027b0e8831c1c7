package app

import (
	"github.com/gin-gonic/gin"

	"github.com/MultiEmail/backend/internal/sdk/middleware"
)

// ----------------------------------------------------------------------------
// Route Registration
// ----------------------------------------------------------------------------

func (a *App) RegisterRoutes() *gin.Engine {
	router := gin.New()

	// Global middleware chain
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(a.cfg.CORSAllowOrigins, a.cfg.CORSAllowCredentials))
	router.Use(middleware.RateLimit(a.cfg.RateLimit))

	deserialize := middleware.Deserialize(a.codec, a.db, true)
	deserializeOptional := middleware.Deserialize(a.codec, a.db, false)

	api := router.Group("/api")
	{
		// Health check routes (public)
		health := api.Group("/healthz")
		{
			health.GET("/readiness", a.HandleReadiness)
			health.GET("/liveness", a.HandleLiveness)
		}

		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/signup", a.HandleSignup)
			auth.GET("/verify/:email/:verificationCode", a.HandleVerify)
			auth.POST("/login", a.HandleLogin)
			auth.GET("/me", deserializeOptional, a.HandleMe)
			auth.GET("/refresh", a.HandleRefresh) // Refresh token in x-refresh header.
			auth.GET("/logout", a.HandleLogout)   // Refresh token in x-refresh header.
			auth.POST("/forgotpassword", a.HandleForgotPassword)
			auth.PATCH("/resetpassword/:email/:passwordResetCode", a.HandleResetPassword)

			auth.GET("/oauth/google", a.HandleGoogleOAuth)
			auth.GET("/oauth/google/redirect", a.HandleGoogleOAuthRedirect)
		}

		// Mail routes (protected - owner or admin only)
		mail := api.Group("/mail/:id/:email")
		mail.Use(deserialize)
		mail.Use(middleware.RequireSameUserOrAdmin())
		{
			mail.GET("/messages", a.HandleListEmails)
			mail.GET("/messages/:messageId", a.HandleGetEmail)
			mail.GET("/drafts", a.HandleListDrafts)
			mail.POST("/send", a.HandleSendEmail)
			mail.DELETE("/messages/:messageId", a.HandleDeleteEmail)
		}

		// User routes (protected - owner or admin only)
		users := api.Group("/users")
		users.Use(deserializeOptional)
		users.Use(middleware.RequireLogin())
		{
			users.PATCH("/:id", middleware.RequireSameUserOrAdmin(), a.HandleUpdateUser)
		}

		// Admin routes (protected - requires admin role)
		admin := api.Group("/admin")
		admin.Use(deserialize)
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/users", a.HandleAdminListUsers)
			admin.DELETE("/users/:id", a.HandleAdminDeleteUser)
			admin.PATCH("/users/:id/verify", a.HandleAdminVerifyUser)
		}
	}

	return router
}
