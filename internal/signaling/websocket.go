package signaling

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"sgpj-legal/internal/scheduler"
	"sgpj-legal/pkg/models"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingPeriod   = 50 * time.Second
	sendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Event is what the hub pushes to every connected client.
type Event struct {
	Type         string               `json:"type"`
	Notification *models.Notification `json:"notification,omitempty"`
	Report       *scheduler.Report    `json:"report,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// ControlMessage is exchanged with clients outside the event stream.
type ControlMessage struct {
	Type     string   `json:"type"`
	ClientID string   `json:"client_id,omitempty"`
	Tipos    []string `json:"tipos,omitempty"`
	Success  bool     `json:"success,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter map[string]bool
}

func (c *client) wants(tipo string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.filter) == 0 || c.filter[tipo]
}

// Hub fans scheduler events out to websocket clients. It implements
// scheduler.Observer; broadcasting never blocks the scheduler, slow clients
// lose events instead.
type Hub struct {
	log     *logrus.Logger
	clients sync.Map
	dropped atomic.Int64
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{log: log}
}

// NotificationCreated implements scheduler.Observer.
func (h *Hub) NotificationCreated(n models.Notification) {
	h.broadcast(Event{Type: "notification", Notification: &n, Timestamp: time.Now().UTC()}, string(n.Tipo))
}

// CycleCompleted implements scheduler.Observer.
func (h *Hub) CycleCompleted(r scheduler.Report) {
	h.broadcast(Event{Type: "cycle_completed", Report: &r, Timestamp: time.Now().UTC()}, "")
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	n := 0
	h.clients.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Dropped returns how many events were discarded for slow clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) broadcast(ev Event, tipo string) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Error("failed to encode websocket event")
		return
	}

	h.clients.Range(func(_, value interface{}) bool {
		c := value.(*client)
		if tipo != "" && !c.wants(tipo) {
			return true
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			h.log.WithField("client_id", c.id).Warn("websocket client too slow, event dropped")
		}
		return true
	})
}

// ServeWS upgrades the request and streams events until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.clients.Store(c.id, c)
	log := h.log.WithField("client_id", c.id)
	log.Info("websocket client connected")

	done := make(chan struct{})
	go h.writePump(c, done)

	h.sendControl(c, ControlMessage{Type: "registered", ClientID: c.id, Success: true})
	h.readPump(c)

	h.clients.Delete(c.id)
	close(done)
	conn.Close()
	log.Info("websocket client disconnected")
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType == websocket.TextMessage {
			h.handleControlMessage(c, message)
		}
	}
}

func (h *Hub) handleControlMessage(c *client, message []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		h.sendControl(c, ControlMessage{Type: "error", Error: "invalid message"})
		return
	}

	switch msg.Type {
	case "subscribe":
		filter := make(map[string]bool, len(msg.Tipos))
		for _, t := range msg.Tipos {
			filter[t] = true
		}
		c.mu.Lock()
		c.filter = filter
		c.mu.Unlock()
		h.sendControl(c, ControlMessage{Type: "subscribed", Tipos: msg.Tipos, Success: true})

	case "ping":
		h.sendControl(c, ControlMessage{Type: "pong"})

	default:
		h.sendControl(c, ControlMessage{Type: "error", Error: "unknown message type"})
	}
}

func (h *Hub) sendControl(c *client, msg ControlMessage) {
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
		h.dropped.Add(1)
	}
}

// writePump owns all writes to the connection.
func (h *Hub) writePump(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}

		case <-done:
			return
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.clients.Range(func(key, value interface{}) bool {
		c := value.(*client)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.conn.Close()
		h.clients.Delete(key)
		return true
	})
}
