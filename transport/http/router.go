package http

import (
	"github.com/gin-gonic/gin"

	"github.com/layer-3/bifrost/service"
)

// SetupRouter sets up the Gin router for the verifier API
func SetupRouter(authService *service.AuthService) *gin.Engine {
	router := gin.Default()

	handlers := NewAuthHandlers(authService)

	auth := router.Group("/auth")
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/verify", handlers.Verify)
		auth.POST("/session/validate", handlers.ValidateSession)
		auth.POST("/logout", handlers.Logout)
	}

	// Protected routes for session introspection
	api := router.Group("/api")
	api.Use(AuthMiddleware(authService))
	{
		api.GET("/me", handlers.Me)
	}

	return router
}
