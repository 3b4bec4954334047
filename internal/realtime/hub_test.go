package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sensorgrid-cloud/internal/auth"
)

func wsServer(t *testing.T, hub *Hub, tenantID string) *httptest.Server {
	t.Helper()
	handler := NewHandler(hub)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID != "" {
			r = r.WithContext(auth.WithIdentity(r.Context(), tenantID, auth.RoleViewer, "test"))
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		t.Fatalf("unmarshal %q: %v", payload, err)
	}
	return envelope
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastReachesSubscriber(t *testing.T) {
	hub := NewHub(log.New(testWriter{t}, "", 0))
	server := wsServer(t, hub, "tenant-1")
	conn := dial(t, server)
	waitForClients(t, hub, 1)

	hub.Broadcast("tenant-1", Envelope{Type: EventNewAlert, Payload: map[string]string{"id": "alert-1"}})

	envelope := readEnvelope(t, conn)
	if envelope.Type != EventNewAlert {
		t.Fatalf("type = %q, want %q", envelope.Type, EventNewAlert)
	}
}

func TestHubScopesBroadcastToTenant(t *testing.T) {
	hub := NewHub(log.New(testWriter{t}, "", 0))
	serverA := wsServer(t, hub, "tenant-1")
	serverB := wsServer(t, hub, "tenant-2")
	connA := dial(t, serverA)
	connB := dial(t, serverB)
	waitForClients(t, hub, 2)

	hub.Broadcast("tenant-1", Envelope{Type: EventSensorData, Payload: []string{}})

	if envelope := readEnvelope(t, connA); envelope.Type != EventSensorData {
		t.Fatalf("tenant-1 got %q", envelope.Type)
	}

	_ = connB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, payload, err := connB.ReadMessage(); err == nil {
		t.Fatalf("tenant-2 received foreign frame: %s", payload)
	}
}

func TestHandlerRequiresTenant(t *testing.T) {
	hub := NewHub(log.New(testWriter{t}, "", 0))
	server := wsServer(t, hub, "")

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHubBroadcastDuringUnregister(t *testing.T) {
	hub := NewHub(log.New(testWriter{t}, "", 0))

	clients := make([]*Client, 200)
	for i := range clients {
		clients[i] = newClient(hub, nil)
		hub.register(clients[i], "tenant-1")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			hub.Broadcast("tenant-1", Envelope{Type: EventSensorData, Payload: []string{}})
		}
	}()
	for _, client := range clients {
		hub.unregister(client)
	}
	<-done

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("clients = %d, want 0", got)
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(log.New(testWriter{t}, "", 0))
	server := wsServer(t, hub, "tenant-1")
	conn := dial(t, server)
	waitForClients(t, hub, 1)

	_ = conn.Close()
	waitForClients(t, hub, 0)
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
