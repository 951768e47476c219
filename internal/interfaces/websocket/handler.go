package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/infrastructure/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxInbound     = 4 * 1024
	clientSendSize = 64
	broadcastSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the feed carries previews only, never credentials
	},
}

// frame is one serialised progress event in flight to the clients.
type frame struct {
	sessionID string
	data      []byte
}

// Client is one progress feed subscriber. An optional session filter
// restricts the feed to a single conversation.
type Client struct {
	id      string
	session string // empty receives everything
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	logger  *zap.Logger
}

// Hub fans progress events from the bus out to WebSocket subscribers.
// The feed is one-way and best-effort: a slow client loses events rather
// than stalling the agent loop or its peers.
type Hub struct {
	clients     map[string]*Client
	broadcast   chan frame
	register    chan *Client
	unregister  chan *Client
	unsubscribe func()
	dropped     atomic.Int64
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewHub subscribes to every bus event. Run must be started for frames
// to reach clients.
func NewHub(bus eventbus.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan frame, broadcastSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.Named("progress"),
	}
	if bus != nil {
		h.unsubscribe = bus.Subscribe(eventbus.Wildcard, h.onEvent)
	}
	return h
}

// onEvent runs on the bus dispatch goroutine; it must never block.
func (h *Hub) onEvent(ctx context.Context, event *entity.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("progress event marshal failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- frame{sessionID: event.SessionID, data: data}:
	default:
		h.dropped.Add(1)
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("progress client connected",
				zap.String("client_id", client.id),
				zap.String("session_filter", client.session))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("progress client disconnected", zap.String("client_id", client.id))
		case fr := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if client.session != "" && client.session != fr.sessionID {
					continue
				}
				select {
				case client.send <- fr.data:
				default:
					close(client.send)
					delete(h.clients, id)
					h.dropped.Add(1)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) shutdown() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped reports frames discarded on full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ServeWS upgrades GET /v1/progress/ws. A ?session=<id> query narrows
// the feed to one conversation.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:      uuid.NewString(),
		session: r.URL.Query().Get("session"),
		conn:    conn,
		send:    make(chan []byte, clientSendSize),
		hub:     h,
		logger:  h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump consumes the connection so close and pong control frames are
// processed. Inbound data frames are ignored; the feed is one-way.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInbound)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("progress read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
