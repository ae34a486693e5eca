// Package dashboard streams one context's sync activity to WebSocket
// observers.
//
// Every connected client gets its own bounded send queue and writer
// goroutine. Broadcast encodes a message once and offers it to each queue; a
// client whose queue is full is disconnected rather than allowed to hold up
// the rest. A client always receives a stats snapshot as its first message.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/invtrack/syncq/internal/mutation"
)

// MessageType tags a dashboard message.
type MessageType string

const (
	// MessageTypeMutation carries one record's outcome.
	MessageTypeMutation MessageType = "mutation"
	// MessageTypeSync marks the start, end or abort of a drive cycle.
	MessageTypeSync MessageType = "sync"
	// MessageTypeStats carries queue counts per status.
	MessageTypeStats MessageType = "stats"
)

// Message is the envelope written to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusFunc reports queue counts for /status and the stats messages.
type StatusFunc func(ctx context.Context) (map[mutation.Status]int, error)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server serves the WebSocket stream plus /health and /status.
type Server struct {
	addr     string
	status   StatusFunc
	logger   *log.Logger
	listener net.Listener
	http     *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: ":8080"). "127.0.0.1:0" picks a free port.
	Addr string

	// Status reports queue counts. Optional.
	Status StatusFunc

	Logger *log.Logger
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:   ":8080",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    config.Addr,
		status:  config.Status,
		logger:  config.Logger,
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Serve failed: %v", err)
		}
	}()
	return nil
}

// Routes returns the HTTP handler, for embedding or httptest.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	return mux
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	s.cancel()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("dashboard shutdown: %w", serr)
		}
	}
	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return err
}

// Broadcast queues msg for every connected client. It never blocks.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Println("Dropping client that is not keeping up")
			s.dropLocked(c)
		}
	}
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendQueueSize)}
	if data, ok := s.snapshot(r.Context()); ok {
		c.send <- data
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()
	s.logger.Printf("Client connected (%d connected)", n)

	go s.writePump(c)
	go s.readPump(c)
}

// writePump drains c.send until it is closed, then closes the connection.
func (s *Server) writePump(c *client) {
	defer s.wg.Done()
	for data := range c.send {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.drop(c)
			break
		}
	}
	// Discard whatever was queued after the failure.
	for range c.send {
	}
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// readPump only notices the client going away; clients send nothing.
func (s *Server) readPump(c *client) {
	defer s.wg.Done()
	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(c)
}

func (s *Server) dropLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	s.logger.Printf("Client disconnected (%d connected)", len(s.clients))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "clients": s.ClientCount()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "status not available", http.StatusNotFound)
		return
	}
	stats, err := s.stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<title>syncq</title>
<h1>syncq</h1>
<ul>
  <li>events: <code>ws://%s/ws</code></li>
  <li><a href="/status">/status</a></li>
  <li><a href="/health">/health</a></li>
</ul>
`, r.Host)
}

func (s *Server) stats(ctx context.Context) (StatsData, error) {
	counts, err := s.status(ctx)
	if err != nil {
		return StatsData{}, err
	}
	return newStats(counts), nil
}

// statsMessage builds a stats message, or reports false when no status
// source is configured or it fails.
func (s *Server) statsMessage(ctx context.Context) (Message, bool) {
	if s.status == nil {
		return Message{}, false
	}
	stats, err := s.stats(ctx)
	if err != nil {
		s.logger.Printf("Failed to read queue counts: %v", err)
		return Message{}, false
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return Message{}, false
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: payload}, true
}

func (s *Server) snapshot(ctx context.Context) ([]byte, bool) {
	msg, ok := s.statsMessage(ctx)
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(msg)
	return data, err == nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
