// Package hub is the notification broadcaster: a websocket fan-out with a
// global bot-configuration channel and join/leave-able per-guild groups.
// Delivery is at-least-once to currently connected subscribers; nothing is
// queued for absent ones, so subscribers resynchronize from the store on
// every reconnect.
package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/small-frappuccino/galactica/pkg/auth"
	"github.com/small-frappuccino/galactica/pkg/log"
)

// Events carried by hub frames.
const (
	EventConfigUpdated      = "config-updated"
	EventGuildConfigUpdated = "guild-config-updated"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 16
)

// Frame is the wire format for hub events.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// clientAction is what guild-config subscribers send to manage group membership.
type clientAction struct {
	Action  string `json:"action"`
	GuildID string `json:"guildId,omitempty"`
}

// Hub tracks connected subscribers and fans events out to them.
type Hub struct {
	secret   []byte
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	global map[*conn]struct{}
	groups map[string]map[*conn]struct{}
	closed bool
}

type conn struct {
	ws      *websocket.Conn
	send    chan []byte
	groups  map[string]struct{}
	removed bool
}

// NewHub returns a broadcaster that authenticates subscribers with secret.
func NewHub(secret []byte) *Hub {
	return &Hub{
		secret: secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns:  make(map[*conn]struct{}),
		global: make(map[*conn]struct{}),
		groups: make(map[string]map[*conn]struct{}),
	}
}

// authenticate validates the bearer credential before the upgrade. The token
// is taken from the access_token query parameter or the Authorization header.
func (h *Hub) authenticate(r *http.Request) bool {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		header := r.Header.Get("Authorization")
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = after
		}
	}
	if token == "" {
		return false
	}
	if _, err := auth.VerifyToken(h.secret, token); err != nil {
		log.APILogger().Warn("Rejected hub subscription", "err", err)
		return false
	}
	return true
}

// HandleBotConfig subscribes the caller to the global configuration channel.
func (h *Hub) HandleBotConfig(w http.ResponseWriter, r *http.Request) {
	if !h.authenticate(r) {
		http.Error(w, "invalid or missing credential", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := h.register(ws, true)
	go c.writePump()

	// Global subscribers send nothing meaningful; read to keep control frames
	// flowing and to notice the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
}

// HandleGuildConfig subscribes the caller to guild-scoped groups. The caller
// joins and leaves groups by sending {"action":"join","guildId":"..."} frames.
func (h *Hub) HandleGuildConfig(w http.ResponseWriter, r *http.Request) {
	if !h.authenticate(r) {
		http.Error(w, "invalid or missing credential", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := h.register(ws, false)
	go c.writePump()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var act clientAction
		if err := json.Unmarshal(data, &act); err != nil {
			continue
		}
		switch act.Action {
		case "join":
			if act.GuildID != "" {
				h.join(c, act.GuildID)
			}
		case "leave":
			if act.GuildID != "" {
				h.leave(c, act.GuildID)
			}
		}
	}
	h.unregister(c)
}

// BroadcastConfigUpdated announces a bot-configuration change to every global
// subscriber. The event is a pure trigger and carries no payload.
func (h *Hub) BroadcastConfigUpdated() {
	data, _ := json.Marshal(Frame{Event: EventConfigUpdated})

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.global {
		h.deliverLocked(c, data)
	}
}

// BroadcastGuildConfig delivers the updated guild configuration to the
// subscribers that joined the guild's group.
func (h *Hub) BroadcastGuildConfig(guildID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.APILogger().Error("Failed to encode guild config payload", "guild_id", guildID, "err", err)
		return
	}
	data, _ := json.Marshal(Frame{Event: EventGuildConfigUpdated, Payload: body})

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[guildID] {
		h.deliverLocked(c, data)
	}
}

// deliverLocked queues data for one connection; a subscriber that cannot keep
// up is dropped rather than allowed to stall the broadcast.
func (h *Hub) deliverLocked(c *conn, data []byte) {
	if c.removed {
		return
	}
	select {
	case c.send <- data:
	default:
		h.removeLocked(c)
	}
}

// SubscriberCount reports the number of global subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.global)
}

// GroupSize reports how many subscribers joined the guild's group.
func (h *Hub) GroupSize(guildID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[guildID])
}

// Close drops every subscriber and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.conns {
		h.removeLocked(c)
	}
}

func (h *Hub) register(ws *websocket.Conn, global bool) *conn {
	c := &conn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		groups: make(map[string]struct{}),
	}

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.removed = true
		close(c.send)
		return c
	}
	h.conns[c] = struct{}{}
	if global {
		h.global[c] = struct{}{}
	}
	return c
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked drops the connection from every channel and closes its send
// queue exactly once.
func (h *Hub) removeLocked(c *conn) {
	if c.removed {
		return
	}
	c.removed = true
	delete(h.conns, c)
	delete(h.global, c)
	for gid := range c.groups {
		if group, ok := h.groups[gid]; ok {
			delete(group, c)
			if len(group) == 0 {
				delete(h.groups, gid)
			}
		}
	}
	close(c.send)
}

func (h *Hub) join(c *conn, guildID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// The connection's read loop outlives a slow-consumer drop; a join frame
	// arriving in that window must not resurrect the closed send queue.
	if h.closed || c.removed {
		return
	}
	group, ok := h.groups[guildID]
	if !ok {
		group = make(map[*conn]struct{})
		h.groups[guildID] = group
	}
	group[c] = struct{}{}
	c.groups[guildID] = struct{}{}
}

func (h *Hub) leave(c *conn, guildID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(c.groups, guildID)
	if group, ok := h.groups[guildID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.groups, guildID)
		}
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with pings. It owns all writes to the socket.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
