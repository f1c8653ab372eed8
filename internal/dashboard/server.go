// Package dashboard provides a real-time WebSocket feed of sync activity.
//
// The server broadcasts sync results, failures, and cache statistics to
// connected clients, so an external UI can watch the cache stay fresh
// without polling the database.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeSyncComplete indicates a sync cycle finished cleanly.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeSyncFailed indicates a sync cycle failed; the cache is
	// unchanged and possibly stale.
	MessageTypeSyncFailed MessageType = "sync_failed"

	// MessageTypeStats indicates updated per-table row counts.
	MessageTypeStats MessageType = "stats"
)

// Message is one dashboard broadcast.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncCompleteData describes a finished sync cycle.
type SyncCompleteData struct {
	Updated    map[string]int `json:"updated,omitempty"`
	Deleted    map[string]int `json:"deleted,omitempty"`
	Skipped    int            `json:"skipped,omitempty"`
	Watermark  int64          `json:"watermark"`
	DurationMS int64          `json:"duration_ms"`
}

// SyncFailedData describes a failed sync cycle.
type SyncFailedData struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// StatsData carries per-table row counts.
type StatsData struct {
	Tables    map[string]int `json:"tables"`
	Watermark int64          `json:"watermark"`
}

// Server manages WebSocket connections and broadcasts dashboard messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8090).
	Port int

	// Logger for server activity (default: log.Default()).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8090,
		Logger: log.Default(),
	}
}

// NewServer creates a dashboard WebSocket server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Addr returns the listen address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Broadcast sends a message to all connected clients. Never blocks; if
// the channel is full the message is dropped with a warning.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
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
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Write outside the read lock so a slow client can't stall
			// broadcasts.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","clients":%d}`, clientCount)
}

// readLoop keeps the connection alive and notices client disconnects.
// Client messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}
