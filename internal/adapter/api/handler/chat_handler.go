package handler

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/websocket"
	"chatsync/internal/usecase"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
	"chatsync/pkg/utils"
)

type ChatHandler struct {
	chatSync  *usecase.ChatSync
	wsManager *websocket.Manager
	pageSize  int
}

func NewChatHandler(chatSync *usecase.ChatSync, wsManager *websocket.Manager, pageSize int) *ChatHandler {
	if pageSize <= 0 {
		pageSize = usecase.DefaultPageSize
	}
	return &ChatHandler{
		chatSync:  chatSync,
		wsManager: wsManager,
		pageSize:  pageSize,
	}
}

type sendMessageRequest struct {
	ReceiverID string           `json:"receiver_id" validate:"required"`
	Text       string           `json:"text" validate:"required_without=File,max=4000"`
	File       *entity.FileData `json:"file,omitempty"`
}

type sendMessageResponse struct {
	ID     string `json:"id"`
	TempID string `json:"temp_id"`
}

// authorize resolves the caller and checks they belong to the chat in :id.
func (h *ChatHandler) authorize(c echo.Context) (string, string, error) {
	userID := getUserIDFromContext(c)
	if userID == "" {
		return "", "", errors.Unauthorized("Authentication required", nil)
	}

	chatID := c.Param("id")
	ok, err := h.chatSync.IsParticipant(c.Request().Context(), chatID, userID)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", errors.Forbidden("You are not a participant in this chat", nil)
	}
	return chatID, userID, nil
}

// GetChatID returns the 1:1 chat id between the caller and ?with=.
func (h *ChatHandler) GetChatID(c echo.Context) error {
	userID := getUserIDFromContext(c)
	chatID, err := usecase.GenerateChatID(userID, c.QueryParam("with"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"chat_id": chatID})
}

// SendMessage stores a message and streams its send phases to the sender's
// open sockets.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	chatID, userID, err := h.authorize(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	var tempID string
	id, err := h.chatSync.SendMessage(c.Request().Context(), usecase.SendMessageInput{
		ChatID:     chatID,
		SenderID:   userID,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		File:       req.File,
	}, func(event usecase.SendEvent) {
		tempID = event.TempID
		if h.wsManager == nil {
			return
		}
		payload := map[string]interface{}{
			"phase":   event.Phase,
			"temp_id": event.TempID,
		}
		if event.ID != "" {
			payload["id"] = event.ID
		}
		if event.Message != nil {
			payload["message"] = event.Message
		}
		if event.Err != nil {
			payload["error"] = "Message could not be sent"
		}
		h.wsManager.SendToUser(userID, websocket.NewMessage(websocket.MessageTypeSendStatus, chatID, payload))
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, sendMessageResponse{ID: id, TempID: tempID})
}

// GetMessages returns the newest page, or the page older than ?cursor=.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	chatID, _, err := h.authorize(c)
	if err != nil {
		return response.Error(c, err)
	}

	params := utils.GetCursorParams(c, h.pageSize)

	var page entity.MessagePage
	if params.Cursor == "" {
		page, err = h.chatSync.LatestMessages(c.Request().Context(), chatID, params.PageSize)
	} else {
		cursor, derr := entity.DecodeCursor(params.Cursor)
		if derr != nil {
			return response.Error(c, errors.BadRequest("Invalid cursor", derr))
		}
		page, err = h.chatSync.LoadMoreMessages(c.Request().Context(), chatID, cursor, params.PageSize)
	}
	if err != nil {
		return response.Error(c, err)
	}

	return response.Cursor(c, page.Messages, page.Cursor.Encode(), len(page.Messages) == params.PageSize)
}

func (h *ChatHandler) MarkAsRead(c echo.Context) error {
	chatID, userID, err := h.authorize(c)
	if err != nil {
		return response.Error(c, err)
	}

	count, err := h.chatSync.MarkMessagesAsRead(c.Request().Context(), chatID, userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{"marked": count})
}

func (h *ChatHandler) DeleteMessage(c echo.Context) error {
	chatID, userID, err := h.authorize(c)
	if err != nil {
		return response.Error(c, err)
	}

	messageID := c.Param("messageId")
	if err := h.chatSync.DeleteMessage(c.Request().Context(), chatID, messageID); err != nil {
		if errors.Is(err, errors.CodeSummaryStale) {
			logger.Warn("Message %s deleted by %s but summary of %s is stale", messageID, userID, chatID)
		}
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"deleted": messageID})
}

func (h *ChatHandler) DeleteAllMessages(c echo.Context) error {
	chatID, userID, err := h.authorize(c)
	if err != nil {
		return response.Error(c, err)
	}

	count, err := h.chatSync.DeleteAllMessages(c.Request().Context(), chatID, userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{"deleted": count})
}

func (h *ChatHandler) GetSummary(c echo.Context) error {
	chatID, _, err := h.authorize(c)
	if err != nil {
		return response.Error(c, err)
	}

	summary, err := h.chatSync.GetSummary(c.Request().Context(), chatID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, summary)
}
