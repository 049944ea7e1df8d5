// Package broadcast mirrors published ticks onto a websocket endpoint for
// local dashboards. The bus remains the authoritative surface; this one is
// best effort and drops slow consumers.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fxgateway/logger"
	"fxgateway/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans published ticks out to connected websocket clients. A client whose
// send buffer is full is dropped rather than allowed to stall the rest.
type Hub struct {
	addr     string
	log      *logger.Log
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	running bool
	server  *http.Server
}

func NewHub(addr string) *Hub {
	return &Hub{
		addr: addr,
		log:  logger.GetLogger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Start serves the websocket endpoint at /ws.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("broadcast hub already running")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	h.server = &http.Server{Addr: h.addr, Handler: mux}
	h.running = true
	h.mu.Unlock()

	go func() {
		h.log.WithComponent("broadcast").WithFields(logger.Fields{"addr": h.addr}).Info("websocket endpoint listening")
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.WithComponent("broadcast").WithError(err).Error("websocket server failed")
		}
	}()
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	server := h.server
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
	h.log.WithComponent("broadcast").Info("websocket hub stopped")
}

// Handler exposes the upgrade endpoint for callers that mount their own mux.
func (h *Hub) Handler() http.HandlerFunc {
	return h.serveWS
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastTick sends the tick to every connected client as a JSON envelope.
func (h *Hub) BroadcastTick(tick models.Tick) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": "tick",
		"data": tick,
	})
	if err != nil {
		h.log.WithComponent("broadcast").WithError(err).Warn("failed to marshal tick")
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
			delete(h.clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		close(c.send)
		h.log.WithComponent("broadcast").Warn("dropping slow websocket client")
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("broadcast").WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.WithComponent("broadcast").WithFields(logger.Fields{"remote": conn.RemoteAddr().String()}).Debug("websocket client connected")

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
	_ = c.conn.Close()
}

// readPump discards inbound frames; it exists to process control messages and
// to notice when the peer goes away.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
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
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
