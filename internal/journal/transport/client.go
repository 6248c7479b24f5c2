// Package transport connects a device to its relay exchange and moves
// Payload envelopes over it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/notejournal/journal/internal/journal/model"
)

// ErrNotConnected is returned by Send after the connection has gone away.
var ErrNotConnected = errors.New("transport: not connected")

const (
	defaultReadLimit = 4 << 20
	defaultBuffer    = 16
	writeTimeout     = 10 * time.Second
)

// Config holds client configuration
type Config struct {
	// URL of the relay, e.g. "ws://host:8080". The exchange is appended as
	// the final path segment.
	URL string

	// Exchange to join.
	Exchange string

	// Self identifies this device. Self.ID must be set; payloads carrying it
	// are dropped on receipt.
	Self model.Sender

	// Buffer is the capacity of the Incoming channel (default: 16)
	Buffer int

	// Logger for transport activity (default: stderr logger)
	Logger *log.Logger
}

// Client is one device's connection to an exchange. Send may be called
// from any goroutine; Incoming delivers in arrival order.
type Client struct {
	conn     *websocket.Conn
	self     model.Sender
	exchange string
	incoming chan model.Payload

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	err   error

	logger *log.Logger
}

// ExchangeURL joins the relay base URL and an exchange name.
func ExchangeURL(base, exchange string) (string, error) {
	if strings.TrimSpace(exchange) == "" {
		return "", fmt.Errorf("exchange name is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", base, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay url %q: scheme must be ws or wss", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + url.PathEscape(exchange)
	return u.String(), nil
}

// Dial connects to the exchange and starts the receive loop. ctx bounds the
// handshake only; use Close to disconnect.
func Dial(ctx context.Context, config Config) (*Client, error) {
	if config.Self.ID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	target, err := ExchangeURL(config.URL, config.Exchange)
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
	if config.Buffer <= 0 {
		config.Buffer = defaultBuffer
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	conn.SetReadLimit(defaultReadLimit)

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		self:     config.Self,
		exchange: config.Exchange,
		incoming: make(chan model.Payload, config.Buffer),
		ctx:      loopCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   logger,
	}

	go c.receiveLoop()

	logger.Printf("Connected to %s as %s", target, c.self.Name)
	return c, nil
}

// Send stamps p with this device as sender and writes it to the exchange.
func (c *Client) Send(ctx context.Context, p model.Payload) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	data, err := model.EncodePayload(p.WithSender(c.self))
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, data); err != nil {
		if c.ctx.Err() != nil {
			return ErrNotConnected
		}
		return fmt.Errorf("failed to send %s payload: %w", p.Type(), err)
	}
	return nil
}

// Incoming returns the channel of decoded payloads from other devices. It is
// closed when the connection ends.
func (c *Client) Incoming() <-chan model.Payload {
	return c.incoming
}

// Done is closed when the receive loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open or after a
// clean Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Self returns the identity this client sends as.
func (c *Client) Self() model.Sender {
	return c.self
}

// Close disconnects and waits for the receive loop to exit. Incoming is
// closed by the time Close returns.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	if err != nil && c.Err() == nil {
		var ce websocket.CloseError
		if !errors.As(err, &ce) {
			c.logger.Printf("Close: %v", err)
		}
	}
	return nil
}

// receiveLoop decodes frames and hands them over one at a time.
func (c *Client) receiveLoop() {
	defer close(c.done)
	defer close(c.incoming)
	defer c.cancel()

	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.setErr(fmt.Errorf("connection to %s lost: %w", c.exchange, err))
				c.logger.Printf("Connection lost: %v", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		p, err := model.DecodePayload(data)
		if err != nil {
			c.logger.Printf("Dropping malformed message: %v", err)
			continue
		}
		if p.From().ID == c.self.ID {
			continue
		}

		select {
		case c.incoming <- p:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}
