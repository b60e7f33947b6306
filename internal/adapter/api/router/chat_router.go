package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
	"chatsync/internal/adapter/api/middleware"
	"chatsync/internal/infrastructure/ratelimit"
)

// SetupChatRouter sets up all chat-related routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, rateLimiter *ratelimit.RateLimiter) {
	chatHandler := handler.GetChatHandler()
	fileHandler := handler.GetFileHandler()

	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.GET("/id", chatHandler.GetChatID)           // GET /v1/chats/id?with=uid
	chatGroup.GET("/:id/summary", chatHandler.GetSummary) // GET /v1/chats/:id/summary
	chatGroup.PUT("/:id/read", chatHandler.MarkAsRead)    // PUT /v1/chats/:id/read

	chatGroup.POST("/:id/messages", chatHandler.SendMessage, middleware.RateLimit(rateLimiter, ratelimit.ActionSendMessage))
	chatGroup.GET("/:id/messages", chatHandler.GetMessages)          // ?cursor=&limit=
	chatGroup.DELETE("/:id/messages", chatHandler.DeleteAllMessages) // clear the chat
	chatGroup.DELETE("/:id/messages/:messageId", chatHandler.DeleteMessage)

	chatGroup.POST("/:id/attachments", fileHandler.UploadAttachment, middleware.RateLimit(rateLimiter, ratelimit.ActionUpload))
}
