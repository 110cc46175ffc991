package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/brlink/internal/logging"
	"github.com/muurk/brlink/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Largest inbound message: one frame with a maximal payload
	maxMessageSize = protocol.Overhead + protocol.MaxPayloadLen

	// Frames buffered per client before broadcasts to it are dropped
	sendBuffer = 64
)

type outbound struct {
	kind int
	data []byte
}

// client is one WebSocket connection. Only writePump writes data frames;
// control frames and Close may come from any goroutine.
type client struct {
	conn       *websocket.Conn
	remoteAddr string
	send       chan outbound
	done       chan struct{}
	closeOnce  sync.Once
}

func newClient(conn *websocket.Conn, remoteAddr string) *client {
	return &client{
		conn:       conn,
		remoteAddr: remoteAddr,
		send:       make(chan outbound, sendBuffer),
		done:       make(chan struct{}),
	}
}

// enqueue queues a message without blocking. It reports false when the
// client is closed or its buffer is full.
func (c *client) enqueue(kind int, data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- outbound{kind: kind, data: data}:
		return true
	default:
		return false
	}
}

func (c *client) enqueueError(err error) {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	c.enqueue(websocket.TextMessage, data)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				logging.Debug("WebSocket write failed",
					zap.String("remote_addr", c.remoteAddr),
					zap.Error(err),
				)
				c.close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}

		case <-c.done:
			return
		}
	}
}

// goAway tells the peer the bridge is shutting down, then closes.
func (c *client) goAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.close()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// hub tracks connected clients. Once closeAll has run it accepts no more.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

// add registers c and its two pumps with the wait group. It reports false
// when the hub is closing.
func (h *hub) add(c *client) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return len(h.clients), false
	}
	h.wg.Add(2)
	h.clients[c] = struct{}{}
	return len(h.clients), true
}

func (h *hub) remove(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	return len(h.clients)
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast queues data as a binary message for every client and returns
// how many clients could not take it.
func (h *hub) broadcast(data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients {
		if !c.enqueue(websocket.BinaryMessage, data) {
			dropped++
		}
	}
	return dropped
}

func (h *hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		logging.Info("Closing active connection", zap.String("remote_addr", c.remoteAddr))
		c.goAway()
	}
}

func (h *hub) wait() {
	h.wg.Wait()
}

// handleWebSocket upgrades the request and streams frames both ways until
// the peer goes away.
func (b *Bridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logging.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	c := newClient(conn, r.RemoteAddr)

	n, ok := b.hub.add(c)
	if !ok {
		logging.Debug("Refusing WebSocket client during shutdown", zap.String("remote_addr", c.remoteAddr))
		c.goAway()
		return
	}
	defer b.hub.wg.Done()

	b.metrics.clients.Set(float64(n))
	logging.LogConnection(c.remoteAddr, "websocket_connected")

	go func() {
		defer b.hub.wg.Done()
		c.writePump()
	}()

	b.readPump(c)

	b.metrics.clients.Set(float64(b.hub.remove(c)))
	c.close()
	logging.LogConnection(c.remoteAddr, "websocket_closed")
}

// readPump forwards inbound binary messages to the link. Each message must
// hold exactly one valid frame; anything else is answered with a JSON error
// on the same connection.
func (b *Bridge) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Info("WebSocket closed unexpectedly",
					zap.String("remote_addr", c.remoteAddr),
					zap.Error(err),
				)
			}
			return
		}

		if kind != websocket.BinaryMessage {
			b.metrics.wsRejected.WithLabelValues("not_binary").Inc()
			c.enqueueError(errNotBinary)
			continue
		}

		msg, err := protocol.DecodeFrame(data)
		if err != nil {
			b.metrics.wsRejected.WithLabelValues("invalid_frame").Inc()
			logging.Debug("Rejected inbound frame",
				zap.String("remote_addr", c.remoteAddr),
				zap.Error(err),
			)
			logging.LogRawBytes("Rejected frame bytes", data)
			c.enqueueError(err)
			continue
		}

		if err := b.send(msg, OriginWebSocket); err != nil {
			b.metrics.wsRejected.WithLabelValues("link_error").Inc()
			logging.Error("Failed to forward frame to link",
				zap.String("remote_addr", c.remoteAddr),
				zap.Error(err),
			)
			c.enqueueError(err)
		}
	}
}
