// Package ws streams pipeline lifecycle events to WebSocket watchers.
// The hub is registered as one sink of the event broadcaster, so every
// stage transition a run emits reaches connected clients live.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"FinTrain/internal/domain/models"
	applogger "FinTrain/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected watcher. An empty symbol receives everything;
// otherwise only run-level events and events for that instrument.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	symbol string
}

// Hub manages all watcher connections.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan models.PipelineEvent
	register   chan *Client
	unregister chan *Client
	stopCh     chan struct{}
	stopOnce   sync.Once
	l          *applogger.Logger
}

type Option func(*Hub)

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(h *Hub) { h.l = l }
}

// NewHub creates the hub. Call Run before serving connections.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan models.PipelineEvent, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the client set. Blocks until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stopCh:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			for client := range h.clients {
				if !client.wants(ev) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// slow client; drop it rather than stall the run
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// Stop disconnects everyone and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Publish feeds one event into the hub. Implements the broadcaster sink;
// a full broadcast buffer drops the event instead of blocking the run.
func (h *Hub) Publish(_ context.Context, ev models.PipelineEvent) error {
	select {
	case h.broadcast <- ev:
	default:
		if h.l != nil {
			h.l.Warn("watch broadcast buffer full, event dropped", applogger.String("type", string(ev.Type)))
		}
	}
	return nil
}

// ServeWS upgrades one HTTP request into a watcher connection. An optional
// ?symbol= narrows the stream to one instrument.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    h,
		symbol: c.QueryParam("symbol"),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
	return nil
}

func (c *Client) wants(ev models.PipelineEvent) bool {
	if c.symbol == "" || ev.Symbol == "" {
		return true
	}
	return ev.Symbol == c.symbol
}

// readPump discards client messages and keeps the pong deadline fresh.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
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

// writePump pumps hub messages to the connection and pings on idle.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
