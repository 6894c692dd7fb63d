package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum reconnection attempts before giving up.
	maxReconnectAttempts = 0 // 0 = infinite

	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// WatchOptions narrows the audit feed. Empty lists mean everything.
type WatchOptions struct {
	PolicyIDs []string
	Actions   []string
}

// Watch is a live audit feed over /ws with automatic reconnection.
type Watch struct {
	client  *Client
	opts    WatchOptions
	conn    *websocket.Conn
	connMu  sync.RWMutex
	entries chan *AuditEntry
	errors  chan error
	done    chan struct{}
	closed  bool
	closeMu sync.Mutex
}

// Watch connects to the live audit feed.
func (c *Client) Watch(ctx context.Context, opts WatchOptions) (*Watch, error) {
	w := &Watch{
		client:  c,
		opts:    opts,
		entries: make(chan *AuditEntry, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}

	if err := w.connect(ctx); err != nil {
		return nil, err
	}

	go w.readPump()
	go w.writePump()

	return w, nil
}

func (w *Watch) connect(ctx context.Context) error {
	wsURL := strings.Replace(w.client.server, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+w.client.apiKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return &ConnectionError{Err: err}
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()

	subscribeMsg := map[string]any{
		"action":     "subscribe",
		"policy_ids": w.opts.PolicyIDs,
		"actions":    w.opts.Actions,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		conn.Close()
		return err
	}

	return nil
}

func (w *Watch) reconnect() {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return
	}
	w.closeMu.Unlock()

	delay := initialReconnectDelay
	attempts := 0

	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		attempts++
		if maxReconnectAttempts > 0 && attempts > maxReconnectAttempts {
			select {
			case w.errors <- &ConnectionError{Err: ErrMaxReconnectAttempts}:
			default:
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := w.connect(ctx)
		cancel()

		if err == nil {
			select {
			case w.errors <- &ReconnectedError{}:
			default:
			}
			go w.readPump()
			go w.writePump()
			return
		}

		select {
		case w.errors <- err:
		default:
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

type feedMessage struct {
	Type    string      `json:"type"`
	Entry   *AuditEntry `json:"entry"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

func (w *Watch) readPump() {
	w.connMu.RLock()
	conn := w.conn
	w.connMu.RUnlock()
	if conn == nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			w.closeMu.Lock()
			closed := w.closed
			w.closeMu.Unlock()

			if !closed {
				select {
				case w.errors <- err:
				default:
				}
				go w.reconnect()
			}
			return
		}

		var msg feedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "audit":
			if msg.Entry == nil {
				continue
			}
			select {
			case w.entries <- msg.Entry:
			case <-w.done:
				return
			}

		case "error":
			select {
			case w.errors <- &APIError{Message: msg.Code + ": " + msg.Message}:
			default:
			}
		}
	}
}

func (w *Watch) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.connMu.RLock()
			conn := w.conn
			w.connMu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Connection lost, readPump will handle reconnection
				return
			}
		}
	}
}

// Entries returns the channel of received audit entries.
func (w *Watch) Entries() <-chan *AuditEntry {
	return w.entries
}

// Errors returns the channel of errors.
// Errors are non-fatal; the watch will attempt to reconnect.
func (w *Watch) Errors() <-chan error {
	return w.errors
}

// Close closes the watch.
func (w *Watch) Close() error {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return nil
	}
	w.closed = true
	w.closeMu.Unlock()

	close(w.done)

	w.connMu.RLock()
	conn := w.conn
	w.connMu.RUnlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected returns true if the watch currently holds a connection.
func (w *Watch) IsConnected() bool {
	w.connMu.RLock()
	defer w.connMu.RUnlock()
	return w.conn != nil
}
