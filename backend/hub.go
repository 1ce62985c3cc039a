package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

// ServerEvent represents a server-sent event
type ServerEvent struct {
	Type string `json:"type"` // "info" | "paired" | "mutual_interest"
	Data any    `json:"data,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	userID string
	conn   *websocket.Conn
	send   chan ServerEvent
}

// Hub pushes notifications to connected users. A user may hold several
// connections; users without one simply miss the event.
type Hub struct {
	clientsByUser map[string]map[*Client]bool
	mu            sync.RWMutex
	log           *zap.Logger
}

func newHub(log *zap.Logger) *Hub {
	return &Hub{
		clientsByUser: make(map[string]map[*Client]bool),
		log:           log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clientsByUser[c.userID]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}
}

func (h *Hub) connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientsByUser[userID])
}

func (h *Hub) sendToUser(userID string, evt ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByUser[userID] {
		select {
		case c.send <- evt:
		default:
			// Drop message if user's buffer is full
		}
	}
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) NotifyPaired(_ context.Context, to matching.Contact, partnerName string) error {
	h.sendToUser(string(to.ID), ServerEvent{Type: "paired", Data: map[string]string{"partner_name": partnerName}})
	return nil
}

func (h *Hub) NotifyMutualInterest(_ context.Context, to matching.Contact, partner profileCard) error {
	h.sendToUser(string(to.ID), ServerEvent{Type: "mutual_interest", Data: partner})
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func wsNotificationsHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("ws upgrade failed", zap.String("user_id", userID), zap.Error(err))
			return
		}

		client := &Client{
			userID: userID,
			conn:   conn,
			send:   make(chan ServerEvent, 16),
		}
		h.register(client)

		client.send <- ServerEvent{Type: "info", Data: "connected"}

		go h.clientWriter(client)
		h.clientReader(client)
	}
}

// clientReader only keeps the read deadline alive; clients never send
// anything meaningful on this socket.
func (h *Hub) clientReader(c *Client) {
	defer func() {
		h.unregister(c)
		close(c.send)
	}()

	c.conn.SetReadLimit(1 << 12)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) clientWriter(c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				h.log.Error("encoding ws event", zap.String("type", evt.Type), zap.Error(err))
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			// ping to keep the connection alive
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
