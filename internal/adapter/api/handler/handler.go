package handler

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/domain/service"
	"chatsync/internal/infrastructure/websocket"
	"chatsync/internal/usecase"
)

var (
	chatHandler      *ChatHandler
	fileHandler      *FileHandler
	websocketHandler *WebSocketHandler
	healthHandler    *HealthHandler
)

func Setup(chatSync *usecase.ChatSync, blobStore service.BlobStore, wsManager *websocket.Manager, pageSize int, backend string) {
	chatHandler = NewChatHandler(chatSync, wsManager, pageSize)
	fileHandler = NewFileHandler(chatSync, blobStore)
	websocketHandler = NewWebSocketHandler(wsManager)
	healthHandler = NewHealthHandler(backend)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetFileHandler() *FileHandler {
	return fileHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return websocketHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func getUserIDFromContext(c echo.Context) string {
	if uid, ok := c.Get("uid").(string); ok {
		return uid
	}
	return ""
}
