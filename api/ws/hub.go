// Package ws streams the depth view to WebSocket clients.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"depthbook/domain/orderbook"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Message is one frame sent to clients.
type Message struct {
	Type      string                  `json:"type"` // "snapshot" or "update"
	Symbol    string                  `json:"symbol"`
	Sequence  uint64                  `json:"sequence"`
	Timestamp int64                   `json:"timestamp"`
	Depth     orderbook.DepthSnapshot `json:"depth"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans DepthChanged events out to connected clients. A client whose
// buffer is full is disconnected rather than slowing the book down.
type Hub struct {
	symbol   string
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    Message
	closed  bool
}

// NewHub starts with initial as the depth new clients receive until the
// first change arrives.
func NewHub(symbol string, initial orderbook.DepthSnapshot, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		symbol: symbol,
		log:    log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		last: Message{
			Type:      "snapshot",
			Symbol:    symbol,
			Timestamp: time.Now().UnixMilli(),
			Depth:     initial,
		},
	}
}

// OnEvent runs on the writer goroutine; it only queues frames.
func (h *Hub) OnEvent(e orderbook.Event) {
	if e.Type != orderbook.EventDepthChanged || e.Depth == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = Message{
		Type:      "update",
		Symbol:    h.symbol,
		Sequence:  h.last.Sequence + 1,
		Timestamp: time.Now().UnixMilli(),
		Depth:     *e.Depth,
	}
	data, err := json.Marshal(h.last)
	if err != nil {
		h.log.Error("marshal depth", zap.Error(err))
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropLocked(c)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and sends the current depth first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	snap := h.last
	snap.Type = "snapshot"
	data, err := json.Marshal(snap)
	if err != nil {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.send <- data
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("client connected", zap.String("remote", r.RemoteAddr))
	go h.writePump(c)
	go h.readPump(c)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

// readPump only services control frames; clients send nothing we act on.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.drop(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
