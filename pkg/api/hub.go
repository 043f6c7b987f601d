package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heitortanoue/swarmmon/pkg/protocol"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 16
)

// Hub pushes the snapshot of every round, and the summaries gossiped by
// cluster peers, to the connected websocket observers. A client that cannot keep up loses snapshots instead of
// slowing down the simulation.
type Hub struct {
	nodeID   string
	upgrader websocket.Upgrader
	clients  map[*client]bool
	mutex    sync.RWMutex

	// Metrics
	sentCount    int64
	droppedCount int64
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub sending snapshots on behalf of nodeID
func NewHub(nodeID string) *Hub {
	return &Hub{
		nodeID: nodeID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}
}

// Publish broadcasts a snapshot message to every client
func (h *Hub) Publish(s protocol.Snapshot) {
	data, err := json.Marshal(protocol.CreateSnapshotMessage(h.nodeID, s))
	if err != nil {
		log.Printf("[API] Failed to encode snapshot of round %d: %v", s.Round, err)
		return
	}
	h.broadcast(data)
}

// PublishSummary forwards the round summary of a cluster peer
func (h *Hub) PublishSummary(s protocol.RoundSummary) {
	data, err := json.Marshal(protocol.CreateSummaryMessage(h.nodeID, s))
	if err != nil {
		log.Printf("[API] Failed to encode summary of %s: %v", s.Node, err)
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
			atomic.AddInt64(&h.sentCount, 1)
		default:
			atomic.AddInt64(&h.droppedCount, 1)
		}
	}
}

// ServeWS upgrades the request and registers the observer
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] Websocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mutex.Lock()
	h.clients[c] = true
	h.mutex.Unlock()

	log.Printf("[API] Observer connected from %s", r.RemoteAddr)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards incoming frames and unregisters the client when the
// connection ends
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.unregister(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) unregister(c *client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected observers
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects every observer
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"clients":       h.ClientCount(),
		"sent_count":    atomic.LoadInt64(&h.sentCount),
		"dropped_count": atomic.LoadInt64(&h.droppedCount),
	}
}
