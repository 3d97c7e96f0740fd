package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/hub"
	"github.com/steveyegge/wsmon/internal/logging"
)

func startServer(t *testing.T) (*Server, *hub.Hub) {
	t.Helper()

	server := NewServer(Config{
		Port:   0,
		Status: func() any { return map[string]any{"root": "/work", "conflict_count": 2} },
		Logger: logging.Discard(),
	})
	h := hub.New(logging.Discard())
	if err := h.Register(server); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })
	return server, h
}

func dial(t *testing.T, server *Server) (*websocket.Conn, Message) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	return conn, read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(Config{Port: 0, Logger: logging.Discard()})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}
	for i := 0; i < 2; i++ {
		if err := server.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() #%d failed: %v", i, err)
		}
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	server := NewServer(Config{Logger: logging.Discard()})
	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}
}

// TestWelcomeStatus verifies new clients receive the current status.
func TestWelcomeStatus(t *testing.T) {
	server, _ := startServer(t)
	_, welcome := dial(t, server)

	if welcome.Type != MessageStatus {
		t.Errorf("welcome type = %q, want %q", welcome.Type, MessageStatus)
	}
	var st map[string]any
	if err := json.Unmarshal(welcome.Data, &st); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if st["root"] != "/work" {
		t.Errorf("unexpected status %v", st)
	}
	if n := server.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}
}

// TestBroadcastsHubEvents verifies conflicts reach every client.
func TestBroadcastsHubEvents(t *testing.T) {
	server, h := startServer(t)

	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		clients[i], _ = dial(t, server)
	}

	h.Emit(events.ConflictDetected, events.Conflict{
		ID: "c1", Path: "/a.js", Editors: []string{"alice", "bob"}, Type: events.SimultaneousEditing,
	})

	for i, conn := range clients {
		msg := read(t, conn)
		if msg.Type != MessageConflict {
			t.Errorf("client %d: type = %q, want %q", i, msg.Type, MessageConflict)
		}
		var c events.Conflict
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			t.Fatalf("Failed to unmarshal conflict: %v", err)
		}
		if c.Path != "/a.js" || len(c.Editors) != 2 {
			t.Errorf("client %d: unexpected conflict %+v", i, c)
		}
	}
}

func TestHTTPEndpoints(t *testing.T) {
	server, _ := startServer(t)
	base := "http://" + server.Addr()

	tests := []struct {
		path string
		key  string
		want any
	}{
		{"/health", "status", "ok"},
		{"/status", "root", "/work"},
	}
	for _, tt := range tests {
		resp, err := http.Get(base + tt.path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", tt.path, err)
		}
		var body map[string]any
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("GET %s: failed to decode: %v", tt.path, err)
		}
		if body[tt.key] != tt.want {
			t.Errorf("GET %s: %s = %v, want %v", tt.path, tt.key, body[tt.key], tt.want)
		}
	}

	resp, err := http.Get(base + "/nope")
	if err != nil {
		t.Fatalf("GET /nope failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want 404", resp.StatusCode)
	}
}
