// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are done by corsMiddleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSMessage represents a message sent over WebSocket.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *WSHub
	closed bool
	mu     sync.Mutex
}

// WSHub fans job updates and progress events out to WebSocket clients.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *zap.Logger) *WSHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", zap.Int("clients", n))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// buffer full, drop the client
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msgType string, data any) {
	jsonData, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Warn("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- jsonData:
	default:
		h.logger.Debug("broadcast channel full, dropping message", zap.String("type", msgType))
	}
}

// BroadcastJob sends a job update to all clients.
func (h *WSHub) BroadcastJob(job *Job) {
	h.Broadcast("job_update", job)
}

// BroadcastEvent sends a progress event to all clients.
func (h *WSHub) BroadcastEvent(event any) {
	h.Broadcast("event", event)
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket handles WebSocket connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  s.wsHub,
	}

	// Queued before registering so the hub never closes send underneath it.
	s.sendInitialState(client)

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// sendInitialState sends the current jobs to a newly connected client.
func (s *Server) sendInitialState(client *WSClient) {
	data, err := json.Marshal(WSMessage{
		Type: "init",
		Data: map[string]any{
			"jobs":    s.jobs.ListJobs(),
			"sets":    s.fetcher.Catalog().Names(),
			"version": s.config.Version,
		},
	})
	if err != nil {
		return
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		select {
		case client.send <- data:
		default:
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so control frames are processed, and
// unregisters the client when it goes away.
func (c *WSClient) readPump() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("read error", zap.Error(err))
			}
			return
		}
	}
}
