// Package dashboard provides a local WebSocket server that streams
// workspace monitor events to connected clients.
//
// The dashboard is a hub service: it subscribes to conflicts, suggestions,
// insights, status snapshots and errors, and broadcasts each one as a JSON
// message. It also serves /health and a /status JSON snapshot for the
// `wsmon status` command.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/steveyegge/wsmon/internal/hub"
	"github.com/steveyegge/wsmon/internal/logging"
)

// ServiceName is the hub registration name of the dashboard.
const ServiceName = "dashboard"

// Message is one broadcast to dashboard clients.
type Message struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (0 picks a free port).
	Port int

	// Host to bind (default: 127.0.0.1).
	Host string

	// Status returns the snapshot served on /status and sent to new clients.
	Status func() any

	// BroadcastBuffer is the number of queued broadcasts before dropping.
	BroadcastBuffer int

	Logger logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		Host:            "127.0.0.1",
		BroadcastBuffer: 100,
	}
}

// Server manages WebSocket connections and broadcasts dashboard messages.
type Server struct {
	config Config
	addr   string
	logger logging.Logger

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message
	dropped   int64
	sent      int64
	statsMu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// NewServer creates a dashboard server.
func NewServer(config Config) *Server {
	defaults := DefaultConfig()
	if config.Host == "" {
		config.Host = defaults.Host
	}
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = defaults.BroadcastBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:    config,
		addr:      net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		logger:    logging.OrDefault(config.Logger, "dashboard"),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, config.BroadcastBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Name implements hub.Service.
func (s *Server) Name() string { return ServiceName }

// Attach implements hub.Service.
func (s *Server) Attach(h *hub.Hub) {
	NewHandler(s).Subscribe(h)
}

// Start begins the HTTP server and WebSocket handler. Calling Start again is a no-op.
func (s *Server) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		err = s.start()
	})
	return err
}

func (s *Server) start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.started = true

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()

	return nil
}

// Shutdown implements hub.Shutdowner. It closes every client and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		err = s.stop(ctx)
	})
	return err
}

func (s *Server) stop(ctx context.Context) error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if !s.started {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(sctx); err != nil {
		return fmt.Errorf("failed to stop dashboard server: %w", err)
	}

	s.wg.Wait()
	s.logger.Info("stopped")
	return nil
}

// Broadcast queues msg for every connected client. A full queue drops msg.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.statsMu.Lock()
		s.dropped++
		s.statsMu.Unlock()
		s.logger.Warn("broadcast queue full, dropping message", "type", msg.Type)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Debug("failed to send to client", "error", err)
					s.removeClient(conn)
					continue
				}
				s.statsMu.Lock()
				s.sent++
				s.statsMu.Unlock()
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Info("client connected", "clients", clientCount)

	if s.config.Status != nil {
		if welcome, err := newMessage(MessageStatus, s.config.Status()); err == nil {
			data, _ := json.Marshal(welcome)
			ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, data)
			cancel()
		}
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection alive until the client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("client disconnected", "clients", clientCount)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.statsMu.Lock()
	sent, dropped := s.sent, s.dropped
	s.statsMu.Unlock()

	writeJSON(w, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
		"sent":    sent,
		"dropped": dropped,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.config.Status == nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.config.Status())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Workspace Monitor</title>
</head>
<body>
    <h1>Workspace Monitor</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Status: <a href="/status">/status</a> &middot; Health: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
