package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat_web/internal/api/handlers"
	"chat_web/internal/middleware"
	"chat_web/internal/service"
)

func SetupRoutes(r *gin.Engine, services *service.Services, allowedOrigins []string) {
	// 初始化 handlers
	userHandler := handlers.NewUserHandler(services.User, services.Online)
	messageHandler := handlers.NewMessageHandler(services.Message)
	wsHandler := handlers.NewWebSocketHandler(services.Gateway, allowedOrigins)

	// 處理 404 錯誤
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Not found",
		})
	})

	// WebSocket 連接點，token 在握手後由 Gateway 驗證
	r.GET("/ws", wsHandler.HandleWebSocket)

	// API 路由群組
	api := r.Group("/api")

	// 公開路由
	{
		api.POST("/users/register", userHandler.Register)
		api.POST("/users/login", userHandler.Login)

		// 基本的健康檢查
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	// 需要驗證的路由
	authorized := api.Group("/")
	authorized.Use(middleware.AuthMiddleware(services.Identity))
	{
		users := authorized.Group("/users")
		{
			users.GET("", userHandler.ListUsers)
			users.GET("/me", userHandler.Me)
			users.PUT("/update", userHandler.UpdateUser)
			users.GET("/online", userHandler.OnlineUsers)
		}

		messages := authorized.Group("/messages")
		{
			messages.GET("", messageHandler.ListMessages)
			messages.GET("/:peerId", messageHandler.Conversation)
		}
	}
}
