// Package dashboard serves live sync progress over WebSocket.
//
// Pull, processing and cache refresh events are pushed to every connected
// client, so a long sync can be watched as it runs.
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
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType tags a pushed message.
type MessageType string

const (
	// MessageTypeSyncEvent carries one sync event
	MessageTypeSyncEvent MessageType = "sync_event"

	// MessageTypeStats carries the running totals
	MessageTypeStats MessageType = "stats"
)

// Message is one frame pushed to watchers.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	queueSize    = 100
	writeTimeout = 5 * time.Second
	drainTimeout = 5 * time.Second
)

// Server pushes sync progress to WebSocket watchers.
type Server struct {
	addr string
	ln   net.Listener
	http *http.Server

	mu       sync.RWMutex
	watchers map[*websocket.Conn]struct{}
	welcome  func() Message

	queue chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config selects where the dashboard listens.
type Config struct {
	Host string
	// Port 0 picks a free port.
	Port   int
	Logger *log.Logger
}

// DefaultConfig listens on :8080 and logs to stderr.
func DefaultConfig() *Config {
	return &Config{Port: 8080}
}

// NewServer prepares a dashboard; nothing listens until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		watchers: make(map[*websocket.Conn]struct{}),
		welcome:  func() Message { return Message{Type: MessageTypeStats} },
		queue:    make(chan Message, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// SetWelcome replaces the builder of the message sent to new clients.
func (s *Server) SetWelcome(fn func() Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.welcome = fn
}

// Start binds the listener and serves /ws, /health and an index page.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	routes := http.NewServeMux()
	routes.HandleFunc("/ws", s.serveWatcher)
	routes.HandleFunc("/health", s.serveHealth)
	routes.HandleFunc("/", s.serveIndex)
	s.http = &http.Server{
		Handler:      routes,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Serving sync dashboard on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Dashboard listener failed: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every watcher and waits for the listener to drain.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for conn := range s.watchers {
		_ = conn.Close(websocket.StatusGoingAway, "sync dashboard stopping")
	}
	clear(s.watchers)
	s.mu.Unlock()

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down dashboard: %w", err)
		}
	}
	s.wg.Wait()
	s.logger.Println("Sync dashboard stopped")
	return nil
}

// Broadcast queues msg for every watcher. A full queue drops it rather than
// stalling the sync that produced it.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.queue <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("Dashboard queue full, dropped %s message", msg.Type)
	}
}

func (s *Server) fanOut() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			frame, err := encode(msg)
			if err != nil {
				s.logger.Printf("Skipping %s message: %v", msg.Type, err)
				continue
			}
			for _, conn := range s.snapshot() {
				if err := s.send(conn, frame); err != nil {
					s.logger.Printf("Dropping watcher after failed send: %v", err)
					s.forget(conn)
				}
			}
		}
	}
}

// encode stamps msg with the current time unless it already carries one.
func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func (s *Server) snapshot() []*websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(s.watchers))
	for conn := range s.watchers {
		conns = append(conns, conn)
	}
	return conns
}

func (s *Server) send(conn *websocket.Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

// serveWatcher greets a new client with the welcome message before it
// receives any broadcast, so totals always precede events.
func (s *Server) serveWatcher(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("Rejected watcher from %s: %v", r.RemoteAddr, err)
		return
	}

	s.mu.RLock()
	greeting := s.welcome()
	s.mu.RUnlock()
	frame, err := encode(greeting)
	if err == nil {
		err = s.send(conn, frame)
	}
	if err != nil {
		s.logger.Printf("Could not send totals to new watcher: %v", err)
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	s.mu.Lock()
	s.watchers[conn] = struct{}{}
	n := len(s.watchers)
	s.mu.Unlock()
	s.logger.Printf("Watcher joined, %d watching", n)

	go s.awaitClose(conn)
}

// awaitClose reads until the watcher goes away; anything it sends is ignored.
func (s *Server) awaitClose(conn *websocket.Conn) {
	defer s.forget(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) forget(conn *websocket.Conn) {
	s.mu.Lock()
	_, known := s.watchers[conn]
	delete(s.watchers, conn)
	n := len(s.watchers)
	s.mu.Unlock()
	if !known {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Watcher left, %d watching", n)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status   string `json:"status"`
		Watchers int    `json:"clients"`
	}{"ok", s.ClientCount()})
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>rr dashboard</title></head>
<body>
    <h1>remote-resources sync dashboard</h1>
    <p>Events stream on <code>ws://%s/ws</code>; liveness on <a href="/health">/health</a>.</p>
    <p>Each connection first receives the running totals, then one frame per pull, process or cache event.</p>
</body>
</html>`, r.Host)
}

// Addr is the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// ClientCount reports how many watchers are connected.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}
