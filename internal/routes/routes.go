package routes

import (
	"net/http"

	"familyhub/internal/auth"
	"familyhub/internal/handlers"
	"familyhub/internal/metrics"
	"familyhub/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func SetupRoutes(h *handlers.Handler, tokens *auth.Tokens, log zerolog.Logger) *gin.Engine {
	handlers.RegisterValidators()

	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())
	ginRouter.Use(middleware.RequestLogger(log))

	// CORS middleware (for frontend integration)
	ginRouter.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Socket-ID, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	ginRouter.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Public routes (no authentication required)
	api := ginRouter.Group("/api")
	{
		api.POST("/login", h.Login)
		api.GET("/realtime/config", h.RealtimeConfig)
	}

	// Protected routes (authentication required)
	protected := api.Group("")
	protected.Use(middleware.JWTAuthMiddleware(tokens))
	{
		protected.GET("/chat-rooms/:roomId/messages", h.GetMessages)
		protected.POST("/chat-rooms/:roomId/messages", h.CreateMessage)
		protected.PATCH("/chat-rooms/:roomId/messages/:messageId", h.UpdateMessage)
		protected.DELETE("/chat-rooms/:roomId/messages/:messageId", h.DeleteMessage)
		protected.POST("/chat-rooms/:roomId/typing", h.Typing)
	}

	// Called by the gateway client library during subscription
	broadcasting := ginRouter.Group("/broadcasting")
	broadcasting.Use(middleware.JWTAuthMiddleware(tokens))
	{
		broadcasting.POST("/auth", h.BroadcastAuth)
	}

	return ginRouter
}
