package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
	"github.com/danellekruger/star-wars-api-wrapper/internal/metrics"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingEvery    = wsPongTimeout / 2
	wsReadLimit    = 512
	wsQueueLen     = 16

	defaultPushInterval = 5 * time.Second
)

// Origin policy is enforced by the CORS middleware in front of the route.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketMessage is the envelope of every frame sent to clients.
type WebSocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// StatsSource produces the pushed payload. It must only read the cache.
type StatsSource func() any

type subscriber struct {
	hub   *Hub
	conn  *websocket.Conn
	queue chan []byte
}

// Hub pushes a cache stats snapshot to every subscriber each interval.
// Subscribers that fall behind are dropped rather than blocking the push.
type Hub struct {
	source   StatsSource
	interval time.Duration

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(source StatsSource, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = defaultPushInterval
	}
	return &Hub{
		source:   source,
		interval: interval,
		subs:     make(map[*subscriber]struct{}),
		done:     make(chan struct{}),
	}
}

// Run pushes snapshots until ctx is done or Stop is called, then
// disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-h.done:
			return
		case <-ticker.C:
			if h.ClientCount() > 0 {
				h.publish()
			}
		}
	}
}

// Stop disconnects all subscribers and refuses new ones. Safe to call twice.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for s := range h.subs {
			h.dropLocked(s)
		}
		h.mu.Unlock()
	})
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) snapshot() ([]byte, error) {
	return json.Marshal(WebSocketMessage{Type: "cache_stats", Payload: h.source()})
}

func (h *Hub) publish() {
	msg, err := h.snapshot()
	if err != nil {
		logger.WithComponent("websocket").Error("encode cache stats", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for s := range h.subs {
		select {
		case s.queue <- msg:
			sent++
		default:
			h.dropLocked(s)
		}
	}
	metrics.WebSocketMessagesSent.Add(float64(sent))
}

// subscribe registers s, failing once the hub is stopped.
func (h *Hub) subscribe(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	h.subs[s] = struct{}{}
	metrics.WebSocketConnections.Inc()
	return true
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	h.dropLocked(s)
	h.mu.Unlock()
}

// dropLocked closes s's queue, which ends its writer. Caller holds mu.
func (h *Hub) dropLocked(s *subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.queue)
	metrics.WebSocketConnections.Dec()
}

// offer queues msg for s alone, if s is still subscribed and has room.
func (h *Hub) offer(s *subscriber, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	select {
	case s.queue <- msg:
	default:
	}
}

// readLoop keeps the pong deadline fresh and answers {"type":"refresh"}
// with an immediate snapshot. Any read error ends the subscription.
func (s *subscriber) readLoop() {
	defer func() {
		s.hub.unsubscribe(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(wsReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WithComponent("websocket").Warn("client closed unexpectedly", "error", err)
			}
			return
		}
		var req struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &req) != nil || req.Type != "refresh" {
			continue
		}
		if msg, err := s.hub.snapshot(); err == nil {
			s.hub.offer(s, msg)
		}
	}
}

// writeLoop drains the queue and pings; a closed queue sends a close frame.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(wsPingEvery)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.queue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WebSocketHandler upgrades clients onto a Hub it does not own.
type WebSocketHandler struct {
	hub *Hub
}

func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleWebSocket serves GET /ws/cache: upgrade, queue a first snapshot,
// then stream pushes until either side goes away.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), "websocket")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered with an HTTP error
		log.Warn("upgrade failed", "error", err)
		return
	}

	s := &subscriber{hub: h.hub, conn: conn, queue: make(chan []byte, wsQueueLen)}
	if msg, err := h.hub.snapshot(); err == nil {
		s.queue <- msg
	}
	if !h.hub.subscribe(s) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	log.Info("client subscribed", "clients", h.hub.ClientCount())

	go s.writeLoop()
	go s.readLoop()
}

func (h *WebSocketHandler) GetHub() *Hub {
	return h.hub
}
