package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
)

const (
	writeWait      = 5 * time.Second
	clientQueueLen = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans engine events out to websocket subscribers. It implements
// core.Notifier so the bus can feed it directly. Slow clients are
// disconnected rather than allowed to back-pressure the bus.
type Hub struct {
	log logger.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		log:     log.WithField("component", "api.ws"),
		clients: make(map[*wsClient]struct{}),
	}
}

// Serve upgrades the request and streams events until the client leaves
func (h *Hub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, clientQueueLen)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Infof("websocket client connected (%d active)", count)

	go h.writePump(client)
	h.readPump(client)
}

// OnEvent serializes the event once and offers it to every client
func (h *Hub) OnEvent(e core.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.WithError(err).Error("event marshal failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Queue full means the reader stalled. Cut it loose.
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// ClientCount reports the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// readPump drains inbound frames so pings and close handshakes work.
// The stream is one-way; client payloads are discarded.
func (h *Hub) readPump(client *wsClient) {
	defer func() {
		h.drop(client)
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *wsClient) {
	defer client.conn.Close()
	for payload := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(client)
			return
		}
	}
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	client.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
}

var _ core.Notifier = (*Hub)(nil)
