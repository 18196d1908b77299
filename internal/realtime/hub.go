package realtime

import (
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Client is one websocket connection as seen by the rest of the service.
type Client struct {
	ID      string
	UserID  string
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client with a bounded outbound queue. A nil limiter
// lets every command through.
func NewClient(userID string, buffer int, limiter *rate.Limiter) *Client {
	return &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		send:    make(chan []byte, buffer),
		limiter: limiter,
	}
}

// enqueue never blocks. A full queue or a closed client drops msg.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		log.Printf("Dropping message for slow connection %s (user %s)", c.ID, c.UserID)
		return false
	}
}

// close stops further enqueues and ends the write pump.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Hub indexes live clients by connection and by user.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[string]map[string]*Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
	}
}

// Register adds c to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.ID] = c
	conns, ok := h.byUser[c.UserID]
	if !ok {
		conns = make(map[string]*Client)
		h.byUser[c.UserID] = conns
	}
	conns[c.ID] = c
}

// Unregister closes and removes the client. last reports whether it was the
// user's final connection.
func (h *Hub) Unregister(connID string) (c *Client, last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return nil, false
	}
	c.close()
	delete(h.clients, connID)

	conns := h.byUser[c.UserID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(h.byUser, c.UserID)
		last = true
	}
	return c, last
}

// Get returns the live client for connID.
func (h *Hub) Get(connID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

// ClientsOf returns the user's live connections ordered by id.
func (h *Hub) ClientsOf(userID string) []*Client {
	h.mu.RLock()
	conns := h.byUser[userID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Connected reports whether the user has at least one live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send queues a raw frame for connID.
func (h *Hub) Send(connID string, msg []byte) bool {
	c, ok := h.Get(connID)
	if !ok {
		return false
	}
	return c.enqueue(msg)
}

// SendToUser queues a raw frame for every connection of userID.
func (h *Hub) SendToUser(userID string, msg []byte) int {
	sent := 0
	for _, c := range h.ClientsOf(userID) {
		if c.enqueue(msg) {
			sent++
		}
	}
	return sent
}
