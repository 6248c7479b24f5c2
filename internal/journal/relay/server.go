// Package relay provides the per-exchange WebSocket fan-out server.
//
// Every text frame a client sends on an exchange is forwarded verbatim to
// every other client on the same exchange. The relay never parses, stores or
// reorders messages, and one slow peer never holds up delivery to the rest.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// ErrNoExchanges is returned when the server is configured without any exchange.
var ErrNoExchanges = errors.New("relay: no exchanges configured")

const (
	// DefaultReadLimit caps the size of a single frame.
	DefaultReadLimit = 4 << 20

	// DefaultSendQueue is how many frames may wait for one slow peer before
	// that peer is dropped.
	DefaultSendQueue = 64

	writeTimeout = 10 * time.Second
)

// Config holds server configuration
type Config struct {
	// Addr to listen on, e.g. ":8080". Port 0 picks a free port.
	Addr string

	// Exchanges is the static list of exchange names. Must not be empty.
	Exchanges []string

	// ReadLimit is the largest accepted frame in bytes (default: DefaultReadLimit)
	ReadLimit int64

	// SendQueue is the per-client outbound buffer (default: DefaultSendQueue)
	SendQueue int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// Server fans out frames between clients of the same exchange.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	exchanges map[string]*exchange

	readLimit int64
	sendQueue int

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer validates config and creates a server. It does not listen until
// Start is called.
func NewServer(config Config) (*Server, error) {
	names := normalizeExchanges(config.Exchanges)
	if len(names) == 0 {
		return nil, ErrNoExchanges
	}

	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[relay] ", log.LstdFlags)
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = DefaultReadLimit
	}
	if config.SendQueue <= 0 {
		config.SendQueue = DefaultSendQueue
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:      config.Addr,
		exchanges: make(map[string]*exchange, len(names)),
		readLimit: config.ReadLimit,
		sendQueue: config.SendQueue,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
	for _, name := range names {
		s.exchanges[name] = newExchange(name, logger)
	}
	return s, nil
}

// normalizeExchanges trims, drops blanks and removes duplicates.
func normalizeExchanges(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, name := range in {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Handler returns the HTTP routes: GET /health and the WebSocket endpoint
// GET /{exchange}.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/{exchange}", s.handleExchange)

	return r
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	// No read/write timeouts: upgraded connections live as long as the peer.
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Relay listening on %s (exchanges: %s)", ln.Addr(), strings.Join(s.ExchangeNames(), ", "))
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping relay")

	// Cancelling the base context ends every client's read loop.
	s.cancel()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Relay stopped")
	return nil
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ExchangeNames returns the configured exchanges, sorted.
func (s *Server) ExchangeNames() []string {
	names := make([]string, 0, len(s.exchanges))
	for name := range s.exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClientCount returns the number of clients connected to an exchange.
func (s *Server) ClientCount(name string) int {
	ex, ok := s.exchanges[name]
	if !ok {
		return 0
	}
	return ex.count()
}

// handleExchange upgrades the request and runs the client until it leaves.
func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "exchange")
	ex, ok := s.exchanges[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown exchange %q", name), http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed on %s: %v", name, err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	ctx, cancel := context.WithCancel(s.ctx)
	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, s.sendQueue),
		cancel: cancel,
	}

	total := ex.add(c)
	s.logger.Printf("Client %s joined %s (total: %d)", c.id, name, total)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writeLoop(ctx, s.logger)
	}()

	s.readLoop(ctx, ex, c)

	cancel()
	total = ex.remove(c.id)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client %s left %s (total: %d)", c.id, name, total)
}

// readLoop forwards every text frame from c to the rest of the exchange.
func (s *Server) readLoop(ctx context.Context, ex *exchange, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				s.logger.Printf("Read from %s on %s failed: %v", c.id, ex.name, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		ex.broadcast(c.id, data)
	}
}

// handleHealth returns the client count of every exchange.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts := make(map[string]int, len(s.exchanges))
	for name, ex := range s.exchanges {
		counts[name] = ex.count()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"exchanges": counts,
	})
}
