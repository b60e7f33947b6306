package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 64
)

// MessageFeed is the live data source behind the socket.
type MessageFeed interface {
	ListenMessages(ctx context.Context, chatID string, pageSize int, fn func(entity.MessagePage, error)) (func(), error)
	ListenSummaries(ctx context.Context, userID string, fn func([]*entity.ChatSummary, error)) (func(), error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// Client represents a WebSocket connection client
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]func()
}

func NewClient(ctx context.Context, userID string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		UserID:        userID,
		Conn:          conn,
		Send:          make(chan []byte, sendBuffer),
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[string]func()),
	}
}

// enqueue drops the frame when the client is gone or too slow.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		logger.Warn("WebSocket: Client %s send buffer full, dropping frame", c.UserID)
		return false
	}
}

func (c *Client) subscribe(key string, stop func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stop()
		return
	}
	previous := c.subscriptions[key]
	c.subscriptions[key] = stop
	c.mu.Unlock()

	if previous != nil {
		previous()
	}
}

func (c *Client) unsubscribe(key string) bool {
	c.mu.Lock()
	stop, ok := c.subscriptions[key]
	delete(c.subscriptions, key)
	c.mu.Unlock()

	if ok {
		stop()
	}
	return ok
}

// close stops every listener and closes Send. Safe to call twice.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subscriptions
	c.subscriptions = map[string]func(){}
	close(c.Send)
	c.mu.Unlock()

	c.cancel()
	for _, stop := range subs {
		stop()
	}
}

// Manager manages all active WebSocket connections
type Manager struct {
	feed        MessageFeed
	rateLimiter *ratelimit.RateLimiter
	pageSize    int

	clients    map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
	done       chan struct{}
}

func NewManager(feed MessageFeed, rateLimiter *ratelimit.RateLimiter, pageSize int) *Manager {
	return &Manager{
		feed:        feed,
		rateLimiter: rateLimiter,
		pageSize:    pageSize,
		clients:     make(map[string]map[*Client]struct{}),
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		done:        make(chan struct{}),
	}
}

// Add hands client to the main loop. It returns false, with the client
// closed, once the manager has shut down or the client is already gone.
func (m *Manager) Add(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		client.close()
		return false
	case <-client.ctx.Done():
		return false
	}
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if m.clients[client.UserID] == nil {
					m.clients[client.UserID] = make(map[*Client]struct{})
				}
				m.clients[client.UserID][client] = struct{}{}
				m.mutex.Unlock()
				logger.Info("Client registered: %s", client.UserID)

			case client := <-m.Unregister:
				m.remove(client)
				logger.Info("Client unregistered: %s", client.UserID)

			case <-ctx.Done():
				m.mutex.Lock()
				all := m.clients
				m.clients = make(map[string]map[*Client]struct{})
				m.mutex.Unlock()
				for _, conns := range all {
					for client := range conns {
						client.close()
					}
				}
				return
			}
		}
	}()
}

func (m *Manager) remove(client *Client) {
	m.mutex.Lock()
	if conns, ok := m.clients[client.UserID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(m.clients, client.UserID)
		}
	}
	m.mutex.Unlock()
	client.close()
}

// SendToUser sends a frame to every connection of userID.
func (m *Manager) SendToUser(userID string, message WSMessage) {
	frame, err := encode(message)
	if err != nil {
		logger.Error("WebSocket: Failed to marshal %s frame for %s: %v", message.Type, userID, err)
		return
	}

	m.mutex.RLock()
	conns := make([]*Client, 0, len(m.clients[userID]))
	for client := range m.clients[userID] {
		conns = append(conns, client)
	}
	m.mutex.RUnlock()

	for _, client := range conns {
		client.enqueue(frame)
	}
}

// ConnectionCount returns the number of open connections of userID.
func (m *Manager) ConnectionCount(userID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID])
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		select {
		case m.Unregister <- c:
		case <-c.ctx.Done():
		case <-m.done:
			c.close()
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket: read error for %s: %v", c.UserID, err)
			}
			break
		}

		m.HandleClientMessage(c, message)
	}
}

// WritePump sends messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket: write error for %s: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
