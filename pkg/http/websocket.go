package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/pipeline"
)

// eventEnvelope is what goes over the wire to WebSocket clients.
type eventEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Stage     string          `json:"stage,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	hub    *EventHub
	conn   *websocket.Conn
	send   chan []byte
	logger *logrus.Logger
}

// EventHub broadcasts pipeline progress events and completed results to
// connected WebSocket clients. It implements pipeline.Sink. Slow clients
// are dropped rather than allowed to stall a broadcast.
type EventHub struct {
	logger     *logrus.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	running    bool
	mutex      sync.RWMutex
}

// WebSocketUpgrader configures the WebSocket connection
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewEventHub creates a new event hub
func NewEventHub(logger *logrus.Logger) *EventHub {
	return &EventHub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the event hub loop. It returns when ctx is cancelled.
func (h *EventHub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket event hub")
	h.mutex.Lock()
	h.running = true
	h.mutex.Unlock()

	defer func() {
		h.mutex.Lock()
		h.running = false
		h.mutex.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down WebSocket event hub")
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.Info("Client connected to event stream")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("Client disconnected from event stream")
			}
			h.mutex.Unlock()

		case data := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// IsRunning reports whether the hub loop is active.
func (h *EventHub) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// PublishEvent implements pipeline.Sink. Events are dropped when the
// broadcast buffer is full.
func (h *EventHub) PublishEvent(event pipeline.Event) {
	data, err := json.Marshal(eventEnvelope{
		Type:      "stage",
		RequestID: event.RequestID,
		Stage:     event.Stage,
		Provider:  event.Provider,
		Detail:    event.Detail,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal stage event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// PublishResult implements pipeline.Sink.
func (h *EventHub) PublishResult(requestID string, result *pipeline.AnalysisResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal result event")
		return
	}
	data, err := json.Marshal(eventEnvelope{
		Type:      "result",
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Result:    raw,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal result envelope")
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection and
// attaches the client to the hub.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 32),
		logger: h.logger,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// readPump discards inbound messages and detects disconnects.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("WebSocket read error")
			}
			return
		}
	}
}

// writePump forwards hub messages to the connection and keeps it alive
// with pings.
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
