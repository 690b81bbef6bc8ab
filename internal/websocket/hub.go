package websocket

import (
	"context"
	"sync"

	"ringline/internal/metrics"
)

// Hub tracks gateway connections and the user channels they listen on.
// A user may hold several connections; each receives every frame.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client (for cleanup)
	clients map[string]*Client

	// channels maps a user channel to the connections listening on it
	channels map[string]map[*Client]struct{}

	// Control channels
	register   chan *Client // New gateway connections
	unregister chan *Client // Closed gateway connections

	metrics *metrics.Metrics
}

// NewHub creates a new gateway hub
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		channels:   make(map[string]map[*Client]struct{}),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		metrics:    m,
	}
}

// Run starts the hub's event loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register adds a client and subscribes it to its own user channel.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a message to all clients subscribed to a channel
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.mu.RLock()
	for c := range h.channels[channel] {
		c.SendMessage(payload)
	}
	h.mu.RUnlock()
}

// subscriberCount returns the number of connections on a channel
func (h *Hub) subscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// addClient adds a new client and its user channel subscription (internal)
func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	if _, ok := h.channels[client.Channel]; !ok {
		h.channels[client.Channel] = make(map[*Client]struct{})
	}
	h.channels[client.Channel][client] = struct{}{}
	client.Subscribe(client.Channel)
	n := len(h.clients)
	h.mu.Unlock()
	h.setGauge(n)
}

// removeClient drops a client and its subscriptions, then closes its send queue.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	// Remove client from all channels
	for _, channel := range client.GetChannels() {
		if subscribers, ok := h.channels[channel]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	delete(h.clients, client.ID)
	n := len(h.clients)
	close(client.Send)
	h.mu.Unlock()
	h.setGauge(n)
}

// setGauge reports the live connection count
func (h *Hub) setGauge(n int) {
	if h.metrics != nil {
		h.metrics.GatewayClients.Set(float64(n))
	}
}
