package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	alertsapp "sensorgrid-cloud/internal/alerts/application"
	"sensorgrid-cloud/internal/auth"
	"sensorgrid-cloud/internal/observability/metrics"
)

// SSEBroker fans out alert lifecycle events to connected clients. Each
// subscriber sees only its own tenant's alerts. Delivery is at-most-once;
// slow subscribers lose messages rather than stall the stream.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]string
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan []byte]string)}
}

// Notify implements AlertNotifier.
func (b *SSEBroker) Notify(_ context.Context, event alertsapp.AlertEvent) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	b.broadcast(event.Alert.OwnerID, payload)
}

// Subscribe registers a new client channel scoped to a tenant.
func (b *SSEBroker) Subscribe(tenantID string) chan []byte {
	if b == nil || tenantID == "" {
		return nil
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = tenantID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *SSEBroker) broadcast(tenantID string, payload []byte) {
	// Sends stay under the lock so they serialize with Unsubscribe closing
	// the channel. They never block: a full buffer drops the event.
	b.mu.Lock()
	for ch, owner := range b.clients {
		if owner != tenantID {
			continue
		}
		select {
		case ch <- payload:
		default:
			metrics.IncBroadcastDropped("alert")
		}
	}
	b.mu.Unlock()
}

// StreamHandler serves the SSE alert stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/alerts/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "tenant required", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe(tenantID)
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: alert\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
