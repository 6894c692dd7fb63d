package websocket

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/filipexyz/authpolicy/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client represents a WebSocket client connection.
type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	actor          string
	maxMessageSize int64

	mu         sync.RWMutex
	closed     bool
	subscribed bool
	policyIDs  []string
	actions    []string
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn, actor string, maxMessageSize int64) *Client {
	return &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, 256),
		actor:          actor,
		maxMessageSize: maxMessageSize,
	}
}

// ReadPump reads messages from the WebSocket connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "error", err)
			}
			return
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("INVALID_JSON", "invalid JSON message")
		return
	}

	switch msg.Action {
	case "subscribe":
		var sub SubscribeMessage
		if err := json.Unmarshal(data, &sub); err != nil {
			c.sendError("INVALID_JSON", "invalid subscribe message")
			return
		}
		c.handleSubscribe(&sub)

	case "unsubscribe":
		c.mu.Lock()
		c.subscribed = false
		c.mu.Unlock()

	case "ping":
		c.sendJSON(NewPongMessage())

	default:
		c.sendError("UNKNOWN_ACTION", "unknown action: "+msg.Action)
	}
}

func (c *Client) handleSubscribe(msg *SubscribeMessage) {
	for _, a := range msg.Actions {
		if !domain.AuditAction(a).Valid() {
			c.sendError("INVALID_ACTION", "unknown audit action: "+a)
			return
		}
	}

	c.mu.Lock()
	c.subscribed = true
	c.policyIDs = msg.PolicyIDs
	c.actions = msg.Actions
	c.mu.Unlock()

	c.sendJSON(NewSubscribedMessage(msg.PolicyIDs, msg.Actions))
	slog.Info("client subscribed to audit feed", "actor", c.actor, "policy_ids", msg.PolicyIDs, "actions", msg.Actions)
}

// wants reports whether the client's subscription covers e.
func (c *Client) wants(e domain.AuditEntry) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.subscribed {
		return false
	}
	if len(c.policyIDs) > 0 && !slices.Contains(c.policyIDs, e.PolicyID) {
		return false
	}
	if len(c.actions) > 0 && !slices.Contains(c.actions, string(e.Action)) {
		return false
	}
	return true
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal message", "error", err)
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping message", "actor", c.actor)
	}
}

// closeSend closes the send channel once. Later sends are dropped.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendError(code, message string) {
	c.sendJSON(NewErrorMessage(code, message))
}
