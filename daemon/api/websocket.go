// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dlcd/daemon/models"
	"dlcd/logger"
)

// wsMessage frames one state change for websocket subscribers.
type wsMessage struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	State     models.DlcState `json:"state"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsMessage
	hub  *wsHub
	once sync.Once
}

// wsHub fans DLC state changes out to connected websocket clients. It
// implements notify.Observer.
type wsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	log     logger.Logger
}

func newWSHub(log logger.Logger) *wsHub {
	return &wsHub{
		clients: make(map[*wsClient]bool),
		log:     log,
	}
}

// DlcStateChanged broadcasts to every connected client; slow clients are
// dropped instead of blocking the daemon.
func (h *wsHub) DlcStateChanged(state models.DlcState) {
	msg := wsMessage{
		Type:      "dlc_state_changed",
		Timestamp: time.Now(),
		State:     state,
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping slow websocket client")
			h.remove(c)
		}
	}
}

func (h *wsHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client registered", "total_clients", count)
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	c.close()
}

func (h *wsHub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// writePump drains the send channel into the connection.
func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.hub.remove(c)
			return
		}
	}
}

// readPump discards client frames and detects disconnects.
func (c *wsClient) readPump() {
	defer c.hub.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon listens on localhost; same-origin checks do not apply.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan wsMessage, 64),
		hub:  s.hub,
	}
	s.hub.add(client)

	go client.writePump()
	go client.readPump()
}
