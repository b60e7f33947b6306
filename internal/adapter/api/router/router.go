package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/middleware"
	"chatsync/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, rateLimiter *ratelimit.RateLimiter) {
	SetupHealthRouter(e)
	SetupChatRouter(e, authMiddleware, rateLimiter)
	SetupWebSocketRouter(e, authMiddleware)
}
