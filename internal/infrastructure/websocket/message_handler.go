package websocket

import (
	"encoding/json"
	"time"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// WebSocket Message Types
const (
	MessageTypePing               = "ping"
	MessageTypePong               = "pong"
	MessageTypeSubscribe          = "subscribe"
	MessageTypeUnsubscribe        = "unsubscribe"
	MessageTypeSubscribeSummaries = "subscribe_summaries"
	MessageTypeMessages           = "messages"
	MessageTypeSummaries          = "summaries"
	MessageTypeSendStatus         = "send_status"
	MessageTypeUnsubscribed       = "unsubscribed"
	MessageTypeError              = "error"
)

const summariesKey = "\x00summaries"

// WebSocket Message Structure
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	ChatID    string      `json:"chat_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type inboundMessage struct {
	Type   string          `json:"type"`
	ChatID string          `json:"chat_id"`
	Data   json.RawMessage `json:"data"`
}

type SubscribeData struct {
	PageSize int `json:"page_size"`
}

type MessagesData struct {
	Messages   []*entity.Message `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
	UserID  string `json:"user_id"`
	RetryIn string `json:"retry_in,omitempty"`
}

func NewMessage(messageType, chatID string, data interface{}) WSMessage {
	return WSMessage{
		Type:      messageType,
		Data:      data,
		ChatID:    chatID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func encode(message WSMessage) ([]byte, error) {
	return json.Marshal(message)
}

// HandleClientMessage processes incoming WebSocket messages
func (m *Manager) HandleClientMessage(client *Client, messageBytes []byte) {
	var in inboundMessage
	if err := json.Unmarshal(messageBytes, &in); err != nil {
		logger.Warn("WebSocket: Failed to unmarshal message from client %s: %v", client.UserID, err)
		m.sendErrorToClient(client, "", errors.CodeBadRequest, "Invalid message format")
		return
	}

	logger.Debug("WebSocket: Received message type '%s' from client %s", in.Type, client.UserID)

	switch in.Type {
	case MessageTypePing:
		m.sendToClient(client, NewMessage(MessageTypePong, "", map[string]string{"status": "alive"}))

	case MessageTypeSubscribe:
		m.handleSubscribe(client, in)

	case MessageTypeUnsubscribe:
		m.handleUnsubscribe(client, in)

	case MessageTypeSubscribeSummaries:
		m.handleSubscribeSummaries(client)

	default:
		logger.Warn("WebSocket: Unknown message type '%s' from client %s", in.Type, client.UserID)
		m.sendErrorToClient(client, in.ChatID, errors.CodeBadRequest, "Unknown message type")
	}
}

func (m *Manager) allow(client *Client, chatID string) bool {
	if m.rateLimiter == nil {
		return true
	}
	allowed, wait := m.rateLimiter.Allow(client.UserID, ratelimit.ActionSubscribe)
	if !allowed {
		m.sendToClient(client, NewMessage(MessageTypeError, chatID, ErrorData{
			Code:    errors.CodeTooManyRequests,
			Error:   "Rate limit exceeded",
			UserID:  client.UserID,
			RetryIn: wait.String(),
		}))
	}
	return allowed
}

func (m *Manager) handleSubscribe(client *Client, in inboundMessage) {
	if in.ChatID == "" {
		m.sendErrorToClient(client, "", errors.CodeBadRequest, "Missing chat_id")
		return
	}
	if !m.allow(client, in.ChatID) {
		return
	}

	var data SubscribeData
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &data); err != nil {
			m.sendErrorToClient(client, in.ChatID, errors.CodeBadRequest, "Invalid subscribe format")
			return
		}
	}
	pageSize := data.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = m.pageSize
	}

	ok, err := m.feed.IsParticipant(client.ctx, in.ChatID, client.UserID)
	if err != nil {
		logger.Error("WebSocket: participant check for %s on %s failed: %v", client.UserID, in.ChatID, err)
		m.sendErrorToClient(client, in.ChatID, errors.CodeInternal, "Failed to open chat")
		return
	}
	if !ok {
		m.sendErrorToClient(client, in.ChatID, errors.CodeForbidden, "You are not a participant in this chat")
		return
	}

	chatID := in.ChatID
	stop, err := m.feed.ListenMessages(client.ctx, chatID, pageSize, func(page entity.MessagePage, err error) {
		if err != nil {
			client.unsubscribe(chatID)
			m.sendErrorToClient(client, chatID, errors.CodeInternal, "Message stream closed")
			return
		}
		m.sendToClient(client, NewMessage(MessageTypeMessages, chatID, MessagesData{
			Messages:   page.Messages,
			NextCursor: page.Cursor.Encode(),
		}))
	})
	if err != nil {
		logger.Error("WebSocket: subscribe %s to %s failed: %v", client.UserID, chatID, err)
		m.sendErrorToClient(client, chatID, errors.CodeInternal, "Failed to subscribe")
		return
	}

	client.subscribe(chatID, stop)
	logger.Info("WebSocket: Client %s subscribed to chat %s", client.UserID, chatID)
}

func (m *Manager) handleUnsubscribe(client *Client, in inboundMessage) {
	if in.ChatID == "" {
		m.sendErrorToClient(client, "", errors.CodeBadRequest, "Missing chat_id")
		return
	}

	if client.unsubscribe(in.ChatID) {
		logger.Info("WebSocket: Client %s unsubscribed from chat %s", client.UserID, in.ChatID)
	}
	m.sendToClient(client, NewMessage(MessageTypeUnsubscribed, in.ChatID, nil))
}

func (m *Manager) handleSubscribeSummaries(client *Client) {
	if !m.allow(client, "") {
		return
	}

	stop, err := m.feed.ListenSummaries(client.ctx, client.UserID, func(summaries []*entity.ChatSummary, err error) {
		if err != nil {
			client.unsubscribe(summariesKey)
			m.sendErrorToClient(client, "", errors.CodeInternal, "Summary stream closed")
			return
		}
		if summaries == nil {
			summaries = []*entity.ChatSummary{}
		}
		m.sendToClient(client, NewMessage(MessageTypeSummaries, "", summaries))
	})
	if err != nil {
		logger.Error("WebSocket: summary subscribe for %s failed: %v", client.UserID, err)
		m.sendErrorToClient(client, "", errors.CodeInternal, "Failed to subscribe")
		return
	}

	client.subscribe(summariesKey, stop)
}

func (m *Manager) sendToClient(client *Client, message WSMessage) {
	frame, err := encode(message)
	if err != nil {
		logger.Error("WebSocket: Failed to marshal message for client %s: %v", client.UserID, err)
		return
	}
	client.enqueue(frame)
}

func (m *Manager) sendErrorToClient(client *Client, chatID, code, errorMsg string) {
	m.sendToClient(client, NewMessage(MessageTypeError, chatID, ErrorData{
		Code:   code,
		Error:  errorMsg,
		UserID: client.UserID,
	}))
}
