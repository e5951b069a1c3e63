package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/pkg/logger"
	"github.com/charlesng35/schoolx/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 64
)

// Message is the JSON frame delivered to realtime subscribers.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// subscriber is anything the hub can fan messages out to.
type subscriber interface {
	owner() string
	deliver(Message) bool
	shutdown()
}

// Hub fans per-user messages out to websocket connections and in-process listeners.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[string]map[subscriber]struct{}
	upgrader      websocket.Upgrader
	log           *zap.Logger
	active        atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]map[string]map[subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOriginOrLoopback,
		},
		log: logger.WithModule("realtime"),
	}
}

// AllowOrigins accepts cross-origin upgrades from origins in addition to same-origin and loopback.
// Call it before serving connections.
func (h *Hub) AllowOrigins(origins ...string) {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		if host := hostWithoutPort(origin); host != "" {
			allowed[host] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return
	}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		if sameOriginOrLoopback(r) {
			return true
		}
		_, ok := allowed[hostWithoutPort(r.Header.Get("Origin"))]
		return ok
	}
}

// Serve upgrades the request and subscribes the connection to streams.
// A nil allowed set permits every stream.
func (h *Hub) Serve(userID string, streams []string, allowed map[string]struct{}, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, socket, userID, allowed)
	metrics.RealtimeConnections.Inc()
	h.active.Add(1)
	h.subscribe(client, streams)

	go client.writeLoop()
	client.readLoop()
}

// BroadcastToUser delivers a message to every subscriber of userID on stream.
func (h *Hub) BroadcastToUser(stream, userID string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" || userID == "" {
		return
	}

	h.mu.RLock()
	targets := make([]subscriber, 0, len(h.subscriptions[stream][userID]))
	for sub := range h.subscriptions[stream][userID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	message.Stream = stream
	for _, sub := range targets {
		h.enqueue(sub, message)
	}
}

// BroadcastToUsers delivers a message to each of the supplied user IDs.
func (h *Hub) BroadcastToUsers(stream string, userIDs []string, message Message) {
	for _, userID := range userIDs {
		h.BroadcastToUser(stream, userID, message)
	}
}

// SubscriberCount reports how many subscribers userID has on stream.
func (h *Hub) SubscriberCount(stream, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[normalizeStream(stream)][userID])
}

// ActiveConnections reports the number of open websocket connections.
func (h *Hub) ActiveConnections() int64 {
	return h.active.Load()
}

func (h *Hub) subscribe(sub subscriber, streams []string) []string {
	added := make([]string, 0, len(streams))

	h.mu.Lock()
	for _, stream := range uniqueStreams(streams) {
		if conn, ok := sub.(*connection); ok {
			if !conn.isAllowed(stream) {
				h.log.Warn("ignoring unauthorized stream", zap.String("stream", stream), zap.String("user_id", conn.userID))
				continue
			}
			if _, exists := conn.streams[stream]; exists {
				continue
			}
			conn.streams[stream] = struct{}{}
		}

		if h.subscriptions[stream] == nil {
			h.subscriptions[stream] = make(map[string]map[subscriber]struct{})
		}
		if h.subscriptions[stream][sub.owner()] == nil {
			h.subscriptions[stream][sub.owner()] = make(map[subscriber]struct{})
		}
		h.subscriptions[stream][sub.owner()][sub] = struct{}{}
		added = append(added, stream)
	}
	h.mu.Unlock()

	for _, stream := range added {
		sub.deliver(Message{Stream: stream, Event: EventSubscribed})
	}
	return added
}

func (h *Hub) unsubscribe(sub subscriber, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		h.removeLocked(sub, stream)
	}
}

func (h *Hub) unregister(sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for stream := range h.subscriptions {
		h.removeLocked(sub, stream)
	}
}

func (h *Hub) removeLocked(sub subscriber, stream string) {
	byUser, ok := h.subscriptions[stream]
	if !ok {
		return
	}
	subs := byUser[sub.owner()]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(byUser, sub.owner())
	}
	if len(byUser) == 0 {
		delete(h.subscriptions, stream)
	}
	if conn, ok := sub.(*connection); ok {
		delete(conn.streams, stream)
	}
}

func (h *Hub) enqueue(sub subscriber, message Message) {
	if sub.deliver(message) {
		return
	}
	h.log.Warn("dropping slow subscriber", zap.String("user_id", sub.owner()), zap.String("stream", message.Stream))
	sub.shutdown()
}

type connection struct {
	hub     *Hub
	socket  *websocket.Conn
	userID  string
	streams map[string]struct{}
	allowed map[string]struct{}
	send    chan Message
	done    chan struct{}
	once    sync.Once
}

func newConnection(hub *Hub, socket *websocket.Conn, userID string, allowed map[string]struct{}) *connection {
	return &connection{
		hub:     hub,
		socket:  socket,
		userID:  userID,
		streams: make(map[string]struct{}),
		allowed: allowed,
		send:    make(chan Message, defaultBufferSize),
		done:    make(chan struct{}),
	}
}

func (c *connection) owner() string { return c.userID }

func (c *connection) deliver(message Message) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *connection) shutdown() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		_ = c.socket.Close()
		metrics.RealtimeConnections.Dec()
		c.hub.active.Add(-1)
	})
}

func (c *connection) readLoop() {
	defer c.shutdown()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.hub.subscribe(c, ctrl.Streams)
		case "unsubscribe":
			c.hub.unsubscribe(c, ctrl.Streams)
		case "ping":
			c.deliver(Message{Event: EventPong})
		default:
			c.hub.log.Debug("unsupported control action", zap.String("action", ctrl.Action), zap.String("user_id", c.userID))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.shutdown()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) isAllowed(stream string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[stream]
	return ok
}

func sameOriginOrLoopback(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originHost := hostWithoutPort(origin)
	return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	var result []string
	for _, stream := range streams {
		if stream = normalizeStream(stream); stream != "" {
			if _, exists := seen[stream]; !exists {
				seen[stream] = struct{}{}
				result = append(result, stream)
			}
		}
	}
	return result
}
