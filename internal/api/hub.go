package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/kidswatch/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

// ErrNoExtension is returned when no extension is connected to receive a command.
var ErrNoExtension = errors.New("no extension connected")

// Command is a message sent to the extension.
type Command struct {
	Type  string `json:"type"`
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

type connection struct {
	id   uuid.UUID
	conn *websocket.Conn
	mu   sync.Mutex // serialises writes
}

func (c *connection) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub keeps the websocket connections of the extension and delivers
// navigation commands to them.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*connection
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// NewHub creates a hub. checkOrigin decides which origins may connect.
func NewHub(checkOrigin func(r *http.Request) bool, logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]*connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// HandleWebSocket upgrades the request and keeps the connection until the
// extension goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &connection{id: uuid.New(), conn: conn}
	h.register(c)

	go func() {
		defer h.unregister(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[c.id] = c
	metrics.ExtensionConnections.Set(float64(len(h.connections)))
	h.logger.Info().Str("connection_id", c.id.String()).Int("total", len(h.connections)).Msg("Extension connected")
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_ = c.conn.Close()
	if _, ok := h.connections[c.id]; !ok {
		return
	}
	delete(h.connections, c.id)
	metrics.ExtensionConnections.Set(float64(len(h.connections)))
	h.logger.Info().Str("connection_id", c.id.String()).Msg("Extension disconnected")
}

// Count returns the number of connected extensions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Navigate asks every connected extension to load url in tab tabID.
func (h *Hub) Navigate(ctx context.Context, tabID int, url string) error {
	return h.broadcast(ctx, Command{Type: "navigate", TabID: tabID, URL: url})
}

func (h *Hub) broadcast(ctx context.Context, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.connections))
	for _, c := range h.connections {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return ErrNoExtension
	}

	delivered := 0
	var lastErr error
	for _, c := range targets {
		if err := c.write(ctx, data); err != nil {
			lastErr = err
			h.logger.Warn().Err(err).Str("connection_id", c.id.String()).Msg("Failed to deliver command")
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("failed to deliver %s command: %w", cmd.Type, lastErr)
	}
	return nil
}

// Close disconnects every extension.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.connections {
		_ = c.conn.Close()
		delete(h.connections, id)
	}
	metrics.ExtensionConnections.Set(0)
}
