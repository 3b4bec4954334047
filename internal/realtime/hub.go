package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"sensorgrid-cloud/internal/observability/metrics"
)

// Envelope is the wire frame sent to websocket subscribers.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub tracks connected websocket clients per tenant and fans out envelopes.
// Delivery is at-most-once: a subscriber whose send buffer is full loses the
// message, and a reconnecting subscriber starts from current state.
type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[*Client]string
}

// NewHub constructs a hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*Client]string),
	}
}

func (h *Hub) register(client *Client, tenantID string) {
	h.mu.Lock()
	h.clients[client] = tenantID
	count := len(h.clients)
	h.mu.Unlock()
	metrics.SetBroadcastClients(count)
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.SetBroadcastClients(count)
}

// Broadcast sends an envelope to every client of one tenant.
func (h *Hub) Broadcast(tenantID string, envelope Envelope) {
	if h == nil || tenantID == "" {
		return
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Printf("broadcast marshal failed for %s: %v", envelope.Type, err)
		return
	}

	// Sends stay under the lock so they serialize with unregister closing
	// the channel. They never block: a full buffer drops the frame.
	h.mu.Lock()
	for client, owner := range h.clients {
		if owner != tenantID {
			continue
		}
		select {
		case client.send <- payload:
		default:
			metrics.IncBroadcastDropped(envelope.Type)
		}
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
