package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"

	"sensorgrid-cloud/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		// Access control happens in auth middleware, not at the origin check.
		return true
	},
}

// Handler upgrades GET /ws requests to websocket subscriptions scoped to the
// caller's tenant.
type Handler struct {
	hub *Hub
}

// NewHandler constructs a websocket handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles GET /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.hub == nil {
		http.Error(w, "realtime not ready", http.StatusServiceUnavailable)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "tenant required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := newClient(h.hub, conn)
	h.hub.register(client, tenantID)
	go client.writePump()
	go client.readPump()
}
