package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/obsidianstack/wsserver/server/internal/metrics"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// DefaultPingInterval controls how often the server sends ping frames
	// when HubOptions.PingInterval is zero.
	DefaultPingInterval = 54 * time.Second

	// DefaultSendBuffer is the per-client outgoing queue depth when
	// HubOptions.SendBuffer is zero.
	DefaultSendBuffer = 16

	// DefaultReadLimit caps inbound message size when HubOptions.ReadLimit
	// is zero.
	DefaultReadLimit = 64 * 1024
)

// HubOptions configures a Hub.
type HubOptions struct {
	// CompressionLevel is the deflate level for permessage-deflate.
	// 0 disables compression negotiation.
	CompressionLevel int

	// EnableTracing logs per-connection events (connect, disconnect,
	// per-message traces at debug level).
	EnableTracing bool

	ReadLimit    int64
	PingInterval time.Duration
	SendBuffer   int

	// RateLimit is the per-client inbound rate in messages/s; 0 is unlimited.
	RateLimit float64
	RateBurst int

	// AllowedOrigins lists accepted Origin headers. Empty accepts all.
	AllowedOrigins []string
}

// Message is one relayed WebSocket frame.
type Message struct {
	Type int
	Data []byte
}

// Hub manages WebSocket client connections and relays every message a client
// sends to all other connected clients.
//
// Hub is safe for concurrent use.
type Hub struct {
	opts     HubOptions
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	log      *slog.Logger
	trace    *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// client represents one connected WebSocket client.
type client struct {
	id      string
	conn    *websocket.Conn
	send    chan Message
	limiter *rate.Limiter
}

// NewHub creates a Hub. A nil m gets a private metrics registry; a nil logger
// means slog.Default.
func NewHub(opts HubOptions, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	trace := logger
	if !opts.EnableTracing {
		trace = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &Hub{
		opts:    opts,
		metrics: m,
		log:     logger,
		trace:   trace,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   4096,
		EnableCompression: opts.CompressionLevel != 0,
		CheckOrigin:       h.checkOrigin,
	}
	return h
}

// Run blocks until ctx is cancelled, then closes all active connections and
// refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client
// until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		h.trace.Debug("ws: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	if h.opts.CompressionLevel != 0 {
		conn.EnableWriteCompression(true)
		if err := conn.SetCompressionLevel(h.opts.CompressionLevel); err != nil {
			h.log.Warn("ws: compression level rejected, using library default",
				"level", h.opts.CompressionLevel, "err", err)
		}
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Message, h.opts.SendBuffer),
	}
	if h.opts.RateLimit > 0 {
		burst := h.opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.RateLimit), burst)
	}

	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	defer h.unregister(c)

	h.trace.Info("ws: client connected", "client", c.id, "remote", r.RemoteAddr)
	defer h.trace.Info("ws: client disconnected", "client", c.id)

	go h.writePump(c)
	h.readPump(c) // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

// relay queues msg for every client except from. Clients whose queue is full
// are disconnected.
func (h *Hub) relay(from *client, msg Message) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if c == from {
			continue
		}
		select {
		case c.send <- msg:
			h.metrics.Messages.WithLabelValues(metrics.DirectionOut).Inc()
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.metrics.Dropped.WithLabelValues(metrics.DropSlowClient).Inc()
		h.log.Warn("ws: client send buffer full, disconnecting", "client", c.id)
		h.unregister(c)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients do not send Origin.
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.ConnectionsTotal.Inc()
	h.metrics.ConnectionsActive.Inc()
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.metrics.ConnectionsActive.Dec()
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
		h.metrics.ConnectionsActive.Dec()
	}
}

// pongWait is how long to wait for a pong before treating the connection as
// dead. Ping frames go out every PingInterval, so it must be longer.
func (h *Hub) pongWait() time.Duration {
	return h.opts.PingInterval * 10 / 9
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(msg.Type, msg.Data); err != nil {
				h.trace.Debug("ws: write failed", "client", c.id, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection, relays data messages and
// processes control messages (pong, close). Blocks until the connection
// closes.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(h.opts.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(h.pongWait())) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.pongWait())) //nolint:errcheck
		return nil
	})

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.trace.Debug("ws: unexpected close", "client", c.id, "err", err)
			}
			return
		}
		h.metrics.Messages.WithLabelValues(metrics.DirectionIn).Inc()

		if c.limiter != nil && !c.limiter.Allow() {
			h.metrics.Dropped.WithLabelValues(metrics.DropRateLimited).Inc()
			h.trace.Debug("ws: message rate limited", "client", c.id)
			continue
		}

		h.trace.Debug("ws: relay", "client", c.id, "bytes", len(data))
		h.relay(c, Message{Type: typ, Data: data})
	}
}
