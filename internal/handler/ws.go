package handler

import (
	"log/slog"
	"net/http"
	"slices"

	ws "github.com/gorilla/websocket"

	"github.com/filipexyz/authpolicy/internal/middleware"
	"github.com/filipexyz/authpolicy/internal/websocket"
)

const wsMaxMessageSize = 16 * 1024

// FeedHandler upgrades /ws connections onto the live audit feed.
type FeedHandler struct {
	hub      *websocket.Hub
	upgrader ws.Upgrader
}

// NewFeedHandler creates a new FeedHandler. An empty origins list accepts any origin.
func NewFeedHandler(hub *websocket.Hub, origins []string) *FeedHandler {
	return &FeedHandler{
		hub: hub,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(origins) == 0 || slices.Contains(origins, origin)
			},
		},
	}
}

// Subscribe upgrades the connection and hands it to the hub.
func (h *FeedHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	actor := middleware.Actor(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, actor, wsMaxMessageSize)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	slog.Info("websocket client connected", "actor", actor)
}
