package relay

import (
	"context"
	"log"
	"sync"

	"github.com/coder/websocket"
)

// exchange is the set of clients sharing one exchange name.
type exchange struct {
	name   string
	logger *log.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

func newExchange(name string, logger *log.Logger) *exchange {
	return &exchange{
		name:    name,
		logger:  logger,
		clients: make(map[string]*client),
	}
}

func (e *exchange) add(c *client) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients[c.id] = c
	return len(e.clients)
}

func (e *exchange) remove(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, id)
	return len(e.clients)
}

func (e *exchange) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients)
}

// broadcast queues data for every client except the sender. A client whose
// queue is full is disconnected rather than waited on.
func (e *exchange) broadcast(from string, data []byte) {
	e.mu.RLock()
	peers := make([]*client, 0, len(e.clients))
	for id, c := range e.clients {
		if id != from {
			peers = append(peers, c)
		}
	}
	e.mu.RUnlock()

	for _, c := range peers {
		if !c.enqueue(data) {
			e.logger.Printf("Client %s on %s is not keeping up, disconnecting", c.id, e.name)
			c.cancel()
		}
	}
}

// client is one connected device.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

func (c *client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound queue until ctx is cancelled. A failed write
// cancels the client so its read loop exits too.
func (c *client) writeLoop(ctx context.Context, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.Printf("Write to %s failed: %v", c.id, err)
				}
				c.cancel()
				return
			}
		}
	}
}
