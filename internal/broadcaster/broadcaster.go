// Package broadcaster implements the AlertBroadcaster: it fans out the
// realtime alert pub/sub channel to connected WebSocket clients, with
// ping/pong liveness and bounded per-client send queues.
package broadcaster

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"icc.tech/nds/internal/metrics"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Subscriber is the pub/sub side the Hub subscribes to once at startup.
type Subscriber interface {
	// Subscribe registers handler for every message received on channel
	// and returns an unsubscribe function.
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

// Hub fans out one alert channel to N connected WebSocket clients.
type Hub struct {
	channel   string
	sendQueue int

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds a Hub bound to the given pub/sub channel name. Call
// Start once to subscribe.
func NewHub(channel string, sendQueueLength int) *Hub {
	if sendQueueLength <= 0 {
		sendQueueLength = 64
	}
	return &Hub{channel: channel, sendQueue: sendQueueLength, clients: make(map[*client]struct{})}
}

// Start subscribes once to the alert channel; every message received is
// fanned out to all currently-connected clients.
func (h *Hub) Start(ctx context.Context, sub Subscriber) (unsubscribe func(), err error) {
	return sub.Subscribe(ctx, h.channel, h.broadcast)
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// slow consumer; dropped for this message, evicted by its own
			// write-timeout deadline in writeLoop.
		}
	}
}

// ServeWS upgrades the HTTP request to a WebSocket connection and
// registers the client with the hub. Reconnecting clients receive only
// future alerts; there is no replay.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.sendQueue)}
	h.addClient(c)
	metrics.WSClientsConnected.Inc()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if existed {
		metrics.WSClientsConnected.Dec()
	}
}

// readLoop handles the ping/pong liveness protocol and incoming client
// messages: only "ping" is recognised, everything else is ignored.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.removeClient(c)
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if string(msg) == "ping" {
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		}
	}
}

// writeLoop drains the client's bounded send queue and sends periodic
// pings. A write that exceeds writeWait evicts the client.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				metrics.WSClientsEvictedTotal.Inc()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WSClientsEvictedTotal.Inc()
				return
			}
		}
	}
}
