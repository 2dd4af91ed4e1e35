// Package live fans out match updates to websocket subscribers.
package live

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/football_stats/pkg/logging"
)

const (
	MatchUpdates = "match_updates"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 32
)

type Message struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type client struct {
	id    string
	group string
	conn  *websocket.Conn
	send  chan []byte
}

// Hub tracks connected clients and their optional group.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	groups  map[string]map[*client]struct{}

	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub accepts upgrades from origins; "*" or an empty list allows any origin.
func NewHub(log *slog.Logger, origins []string) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		clients: map[*client]struct{}{},
		groups:  map[string]map[*client]struct{}{},
		log:     log.With("component", "live"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := map[string]struct{}{}
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if c.group != "" {
		g, ok := h.groups[c.group]
		if !ok {
			g = map[*client]struct{}{}
			h.groups[c.group] = g
		}
		g[c] = struct{}{}
	}
}

// remove unregisters c and closes its queue, which ends its write loop.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if g, ok := h.groups[c.group]; ok {
		delete(g, c)
		if len(g) == 0 {
			delete(h.groups, c.group)
		}
	}
	close(c.send)
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(c *client, msg []byte) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (h *Hub) sendTo(c *client, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.enqueue(c, msg)
}

// Count returns the number of clients in group, or all clients when group is empty.
func (h *Hub) Count(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if group == "" {
		return len(h.clients)
	}
	return len(h.groups[group])
}

// Broadcast sends v as JSON to every client of group and returns how many
// clients it was queued for. Clients whose queue is full are dropped.
func (h *Hub) Broadcast(group string, v any) (int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("live: encode message: %w", err)
	}
	return h.deliver(group, payload), nil
}

// BroadcastAll sends v to every connected client.
func (h *Hub) BroadcastAll(v any) (int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("live: encode message: %w", err)
	}
	return h.deliver("", payload), nil
}

func (h *Hub) deliver(group string, payload []byte) int {
	delivered := 0
	var slow []*client

	h.mu.RLock()
	targets := h.clients
	if group != "" {
		targets = h.groups[group]
	}
	for c := range targets {
		if h.enqueue(c, payload) {
			delivered++
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("client_dropped", "client_id", c.id, "reason", "send queue full")
		h.remove(c)
	}
	return delivered
}

// PublishMatchUpdate wraps data as a match_update message for MatchUpdates subscribers.
func (h *Hub) PublishMatchUpdate(data any) (int, error) {
	return h.Broadcast(MatchUpdates, Message{Type: "match_update", Data: data})
}

// ServeEcho upgrades the request and echoes every text frame back. The
// optional group query parameter subscribes the client to that group.
func (h *Hub) ServeEcho(c echo.Context) error {
	cl, err := h.accept(c, c.QueryParam("group"), nil)
	if err != nil {
		return nil
	}
	h.readLoop(cl, func(msg []byte) {
		h.sendTo(cl, msg)
	})
	return nil
}

// ServeMatches subscribes the client to MatchUpdates and sends a welcome message.
func (h *Hub) ServeMatches(c echo.Context) error {
	welcome, _ := json.Marshal(Message{Type: "info", Message: "subscribed to match updates"})
	cl, err := h.accept(c, MatchUpdates, welcome)
	if err != nil {
		return nil
	}
	h.readLoop(cl, func(msg []byte) {
		h.log.Debug("client_message", "client_id", cl.id, "group", MatchUpdates, "size", len(msg))
	})
	return nil
}

// accept upgrades the connection and registers the client. greeting, when
// set, is queued before any broadcast can reach the client.
func (h *Hub) accept(c echo.Context, group string, greeting []byte) (*client, error) {
	l := logging.FromContext(c.Request().Context()).With("handler", "ws_connect")

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response
		l.Warn("ws_upgrade_failed", "error", err)
		return nil, err
	}
	cl := &client{
		id:    uuid.NewString(),
		group: group,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
	}
	if greeting != nil {
		cl.send <- greeting
	}
	h.add(cl)
	go h.writeLoop(cl)
	h.log.Info("client_connected", "client_id", cl.id, "group", group, "remote_ip", c.RealIP())
	return cl, nil
}

func (h *Hub) readLoop(cl *client, onMessage func([]byte)) {
	defer func() {
		h.remove(cl)
		h.log.Info("client_disconnected", "client_id", cl.id)
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("client_read_failed", "client_id", cl.id, "error", err)
			}
			return
		}
		onMessage(msg)
	}
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn("client_write_failed", "client_id", cl.id, "error", err)
				h.remove(cl)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(cl)
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.remove(c)
	}
}
