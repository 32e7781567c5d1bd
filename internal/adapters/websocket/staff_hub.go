// Package websocket provides WebSocket-based staff notifications
// Following Hexagonal Architecture: This is an Adapter layer component
package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

var _ ports.Notifier = (*StaffHub)(nil)

// StaffHub fans notifications out to the dashboard clients of one tenant.
// Fan-out pattern: 1 notification -> N staff clients of that tenant.
// Delivery is drop-if-full and never blocks the caller.
type StaffHub struct {
	// Registered clients grouped by tenant
	clients map[int64]map[*Client]struct{}

	// Buffered channel for notifications (Non-blocking, Drop-if-full strategy)
	broadcast chan envelope

	register   chan *Client
	unregister chan *Client

	// done is closed when Run returns
	done chan struct{}

	mu sync.RWMutex

	// Secret key for authentication (MESH_SECRET)
	secretKey string

	upgrader websocket.Upgrader
}

// Client represents a connected staff dashboard
type Client struct {
	hub      *StaffHub
	tenantID int64
	conn     *websocket.Conn
	send     chan []byte
}

type envelope struct {
	tenantID int64
	payload  []byte
}

const (
	broadcastBufferSize = 256
	clientBufferSize    = 64

	// WebSocket timeouts
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// NewStaffHub creates a new hub; secretKey is MESH_SECRET
func NewStaffHub(secretKey string) *StaffHub {
	return &StaffHub{
		clients:    make(map[int64]map[*Client]struct{}),
		broadcast:  make(chan envelope, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		secretKey:  secretKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard is protected by the secret key, not by origin
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run starts the hub's event loop; returns when ctx is cancelled
func (h *StaffHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.tenantID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.tenantID] = set
			}
			set[client] = struct{}{}
			n := len(set)
			h.mu.Unlock()
			slog.Info("Staff client connected", "tenant_id", client.tenantID, "clients", n)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients[msg.tenantID] {
				// Non-blocking send: a slow dashboard never stalls the hub
				select {
				case client.send <- msg.payload:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *StaffHub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[client.tenantID]
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.tenantID)
	}
	slog.Info("Staff client disconnected", "tenant_id", client.tenantID, "clients", len(set))
}

func (h *StaffHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for tenantID, set := range h.clients {
		for client := range set {
			close(client.send)
		}
		delete(h.clients, tenantID)
	}
}

// Notify queues n for the tenant's connected clients.
// Drops the notification when the hub buffer is full.
func (h *StaffHub) Notify(_ context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	select {
	case h.broadcast <- envelope{tenantID: n.TenantID, payload: payload}:
	default:
		slog.Warn("Staff hub buffer full, notification dropped", "tenant_id", n.TenantID, "kind", n.Kind)
	}
	return nil
}

// ServeWS handles WebSocket upgrade requests
// Route: /ws/notifications?tenant_id=ID&secret_key=MESH_SECRET
func (h *StaffHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	queryKey := r.URL.Query().Get("secret_key")
	if h.secretKey == "" || subtle.ConstantTimeCompare([]byte(queryKey), []byte(h.secretKey)) != 1 {
		http.Error(w, "Unauthorized: Invalid or missing secret_key", http.StatusUnauthorized)
		slog.Warn("Unauthorized staff WebSocket attempt", "remote_addr", r.RemoteAddr)
		return
	}

	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		http.Error(w, "Bad Request: tenant_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:      h,
		tenantID: tenantID,
		conn:     conn,
		send:     make(chan []byte, clientBufferSize),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients for a tenant
func (h *StaffHub) ClientCount(tenantID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tenantID])
}

// readPump drains the connection (pong responses only)
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("Staff client read error", "error", err, "tenant_id", c.tenantID)
			}
			return
		}
	}
}

// writePump sends one JSON notification per WebSocket frame
func (c *Client) writePump() {
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
				// Hub closed the channel
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
