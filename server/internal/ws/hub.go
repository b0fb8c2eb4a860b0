package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	sendBufSize  = 32 // queued messages per client before it is dropped
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is left to the fronting proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients for every pipeline event.
type Message struct {
	Event string          `json:"event"`
	At    time.Time       `json:"at"`
	Data  json.RawMessage `json:"data"`
}

// Hub fans pipeline events out to connected WebSocket clients. It keeps the
// latest message per event so a new client gets current state on connect.
type Hub struct {
	pingPeriod time.Duration
	pongWait   time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  map[string][]byte
	order   []string
}

// client is one subscriber. send is closed by the hub on removal.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that pings clients every pingPeriod. Clients that do
// not answer within 10/9 of that are dropped.
func New(pingPeriod time.Duration) *Hub {
	return &Hub{
		pingPeriod: pingPeriod,
		pongWait:   pingPeriod * 10 / 9,
		clients:    make(map[*client]struct{}),
		latest:     make(map[string][]byte),
	}
}

// Publish broadcasts one event. Clients whose buffer is full are
// disconnected rather than blocking the pipeline.
func (h *Hub) Publish(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("ws: encode event failed", "event", event, "err", err)
		return
	}
	msg, err := json.Marshal(Message{Event: event, At: time.Now().UTC(), Data: raw})
	if err != nil {
		return
	}

	h.mu.Lock()
	if _, seen := h.latest[event]; !seen {
		h.order = append(h.order, event)
	}
	h.latest[event] = msg
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.deliver(c, msg)
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The latest message of each event kind is sent immediately. Blocks until
// the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("ws: upgrade rejected", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	for _, ev := range h.order {
		c.send <- h.latest[ev]
	}
	h.mu.Unlock()
	defer h.unregister(c)

	go c.pushLoop(h.pingPeriod)
	c.awaitClose(h.pongWait)
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(c *client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		// Slow consumer. unregister needs the write lock.
		go h.unregister(c)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// maxInbound caps client frames; clients only send control frames.
const maxInbound = 512

func (c *client) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// pushLoop forwards queued messages and keeps the connection alive with
// pings. It closes the connection when the queue is closed or a write fails.
func (c *client) pushLoop(pingPeriod time.Duration) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case msg, open := <-c.send:
			if !open {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			err = c.write(websocket.TextMessage, msg)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

// awaitClose discards inbound frames so pong and close control frames are
// processed. It returns once the peer goes away or misses a pong.
func (c *client) awaitClose(pongWait time.Duration) {
	defer c.conn.Close()
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	c.conn.SetReadLimit(maxInbound)
	_ = extend("")
	c.conn.SetPongHandler(extend)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
