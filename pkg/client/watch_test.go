package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockWSServer creates a test WebSocket server
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func keepOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestWatch_SubscribesWithFilters(t *testing.T) {
	got := make(chan map[string]any, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		got <- msg
		conn.WriteJSON(map[string]string{"type": "subscribed"})
		keepOpen(conn)
	})
	defer server.Close()

	c := New("test-api-key", WithServer(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := c.Watch(ctx, WatchOptions{PolicyIDs: []string{"p1"}, Actions: []string{"policy.archived"}})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	select {
	case msg := <-got:
		if msg["action"] != "subscribe" {
			t.Fatalf("expected subscribe action, got %v", msg["action"])
		}
		ids, _ := msg["policy_ids"].([]any)
		if len(ids) != 1 || ids[0] != "p1" {
			t.Fatalf("unexpected policy_ids %v", msg["policy_ids"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe message not received by server")
	}

	if !w.IsConnected() {
		t.Error("watch should be connected")
	}
}

func TestWatch_ReceiveEntry(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.WriteJSON(map[string]string{"type": "subscribed"})
		conn.WriteJSON(map[string]any{
			"type": "audit",
			"entry": map[string]any{
				"id":          "audit-1",
				"policy_id":   "p1",
				"action":      "policy.activated",
				"from_status": "draft",
				"to_status":   "active",
				"version":     1,
				"metadata":    map[string]string{"actor": "api_key:abcd1234"},
				"timestamp":   time.Now().Format(time.RFC3339),
			},
		})
		keepOpen(conn)
	})
	defer server.Close()

	c := New("test-api-key", WithServer(server.URL))
	w, err := c.Watch(context.Background(), WatchOptions{})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	select {
	case e := <-w.Entries():
		if e.ID != "audit-1" || e.Action != "policy.activated" || e.Metadata.Actor != "api_key:abcd1234" {
			t.Fatalf("unexpected entry %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for entry")
	}
}

func TestWatch_ErrorChannel(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.WriteJSON(map[string]string{"type": "error", "code": "INVALID_ACTION", "message": "unknown audit action: x"})
		keepOpen(conn)
	})
	defer server.Close()

	c := New("test-api-key", WithServer(server.URL))
	w, err := c.Watch(context.Background(), WatchOptions{Actions: []string{"x"}})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	select {
	case err := <-w.Errors():
		apiErr, ok := err.(*APIError)
		if !ok || apiErr.Message != "INVALID_ACTION: unknown audit action: x" {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error")
	}
}

func TestWatch_Reconnect(t *testing.T) {
	var connectionCount atomic.Int32

	server := mockWSServer(t, func(conn *websocket.Conn) {
		count := connectionCount.Add(1)

		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.WriteJSON(map[string]string{"type": "subscribed"})

		// On first connection, close after a short delay to trigger reconnect
		if count == 1 {
			time.Sleep(200 * time.Millisecond)
			conn.Close()
			return
		}
		keepOpen(conn)
	})
	defer server.Close()

	c := New("test-api-key", WithServer(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w, err := c.Watch(ctx, WatchOptions{})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	// Wait for reconnection
	time.Sleep(3 * time.Second)

	if connectionCount.Load() < 2 {
		t.Errorf("Expected at least 2 connections (reconnect), got %d", connectionCount.Load())
	}
	if !w.IsConnected() {
		t.Error("watch should be connected after reconnect")
	}
}

func TestWatch_ConnectionError(t *testing.T) {
	c := New("test-api-key", WithServer("http://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Watch(ctx, WatchOptions{})
	if err == nil {
		t.Fatal("expected connection error")
	}
	if _, ok := err.(*ConnectionError); !ok {
		t.Errorf("expected *ConnectionError, got %T", err)
	}
}

func TestWatch_CloseIsIdempotent(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		var msg map[string]any
		conn.ReadJSON(&msg)
		keepOpen(conn)
	})
	defer server.Close()

	c := New("test-api-key", WithServer(server.URL))
	w, err := c.Watch(context.Background(), WatchOptions{})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w.Close()
	if err := w.Close(); err != nil {
		t.Fatalf("second Close returned %v", err)
	}
}
