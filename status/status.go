// Package status broadcasts Event state transitions, Capture fault
// events and zone occupancy changes to connected operator dashboards over
// WebSocket, mirroring the teacher's worker registry broadcast pattern
// with browser clients in place of CV workers.
package status

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/unblink/camerad/bus"
)

// Event is one broadcastable update. Kind is "status", "fault", "zone" or
// "recording"; Camera identifies the source camera; Data is marshalled
// as-is.
type Event struct {
	Kind      string      `json:"type"`
	Camera    string      `json:"camera"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

const clientSendBuffer = 32

type client struct {
	id        string
	conn      *websocket.Conn
	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.closeChan) })
}

// Hub tracks connected dashboard clients and fans broadcasts out to them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.New(os.Stdout, "[status] ", log.LstdFlags),
	}
}

// Attach subscribes the Hub to every camera's status/fault/zone/recording
// topics on b, broadcasting each as an Event. The camera name is parsed
// from the topic string by cameraFromTopic; the message Data is passed
// through unchanged.
func (h *Hub) Attach(b *bus.Bus) error {
	subs := []struct {
		pattern string
		kind    string
	}{
		{"status.*", "status"},
		{"fault.*", "fault"},
		{"zone.*", "zone"},
		{"recording.*", "recording"},
	}
	for _, s := range subs {
		kind := s.kind
		if _, err := b.Subscribe(s.pattern, func(msg bus.Message) {
			h.Broadcast(Event{
				Kind:      kind,
				Camera:    cameraFromTopic(msg.Topic),
				Timestamp: time.Now(),
				Data:      msg.Data,
			})
		}); err != nil {
			return err
		}
	}
	return nil
}

// cameraFromTopic extracts the camera name from a "<kind>.<camera>" or
// "<kind>.<camera>.<zone>" topic.
func cameraFromTopic(topic string) string {
	for i := 0; i < len(topic); i++ {
		if topic[i] == '.' {
			rest := topic[i+1:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == '.' {
					return rest[:j]
				}
			}
			return rest
		}
	}
	return topic
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// resulting connection as a broadcast recipient until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade: %v", err)
		return
	}
	c := &client{
		id:        uuid.NewString(),
		conn:      conn,
		sendChan:  make(chan []byte, clientSendBuffer),
		closeChan: make(chan struct{}),
	}
	h.register(c)
	go h.sendLoop(c)
	h.receiveLoop(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) sendLoop(c *client) {
	defer c.conn.Close()
	for {
		select {
		case <-c.closeChan:
			return
		case data := <-c.sendChan:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// receiveLoop only exists to detect client disconnects; dashboards never
// send meaningful messages back.
func (h *Hub) receiveLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast marshals event and fans it out to every connected client,
// dropping the event (and logging one line per such client) for any
// client whose send buffer is full rather than blocking the caller.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Printf("marshalling event: %v", err)
		return
	}

	for _, c := range h.clients {
		select {
		case c.sendChan <- data:
		default:
			h.logger.Printf("client %s send buffer full, dropping %s event", c.id, event.Kind)
		}
	}
}

// ClientCount reports how many dashboards are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
