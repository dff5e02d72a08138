package wsgateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// ClientMessage is an inbound frame from a browser client: subscribe /
// unsubscribe to an agent's room (spec §6.2).
type ClientMessage struct {
	Action  string `json:"action"`
	AgentID string `json:"agentId,omitempty"`
}

// MessageHandler processes one inbound ClientMessage from clientID.
type MessageHandler func(clientID string, msg ClientMessage)

// DisconnectHandler is invoked once a client's connection is fully torn
// down, so subscriptions can be cleaned up.
type DisconnectHandler func(clientID string)

// Client is a single WebSocket connection registered with a Hub.
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	onMessage    MessageHandler
	onDisconnect DisconnectHandler

	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

// NewClient wraps conn as a hub-managed Client.
func NewClient(id string, conn *websocket.Conn, hub *Hub, onMessage MessageHandler, onDisconnect DisconnectHandler, logger *zap.Logger) *Client {
	return &Client{
		ID:           id,
		conn:         conn,
		hub:          hub,
		send:         make(chan []byte, 256),
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
		logger:       logger.With(zap.String("client_id", id)),
	}
}

// ReadPump pumps inbound messages from the socket to onMessage until the
// connection closes, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		if c.onDisconnect != nil {
			c.onDisconnect(c.ID)
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("failed to parse inbound message", zap.Error(err))
			continue
		}
		if c.onMessage != nil {
			go c.onMessage(c.ID, msg)
		}
	}
}

// WritePump pumps queued outbound frames to the socket, sending periodic
// pings, until the send channel is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
