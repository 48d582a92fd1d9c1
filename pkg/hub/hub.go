// Package hub fans rover frames out to connected operators over
// websockets and routes their inbound frames to a handler.
//
// Outbound frames are pre-encoded JSON text.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxClients is the number of simultaneous operators accepted.
const DefaultMaxClients = 4

var (
	// ErrFull is returned by Register when MaxClients are connected.
	ErrFull = errors.New("hub: client limit reached")

	// ErrStopped is returned by Register after the hub has stopped.
	ErrStopped = errors.New("hub: stopped")
)

// Handler receives every text or binary frame read from a client. It is
// called on the client's read goroutine and must not block.
type Handler func(c *Client, data []byte)

// Options configures a Hub.
type Options struct {
	// MaxClients caps concurrent connections. Default: DefaultMaxClients
	MaxClients int

	// OnMessage handles inbound frames. Nil discards them.
	OnMessage Handler

	Logger *slog.Logger
}

type registration struct {
	client *Client
	reply  chan error
}

type direct struct {
	client *Client
	frame  []byte
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Name for logging
	name   string
	logger *slog.Logger

	maxClients int
	onMessage  Handler

	// Registered clients, owned by Run
	clients map[*Client]bool

	// Outbound messages for every client
	broadcast chan []byte

	// Outbound messages for one client
	direct chan direct

	// Register requests from clients
	register chan registration

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for client count (read-only access from outside)
	mu    sync.RWMutex
	count int
}

// New creates a new Hub
func New(name string, opts Options) *Hub {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     opts.Logger.With("hub", name),
		maxClients: opts.MaxClients,
		onMessage:  opts.OnMessage,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan direct, 64),
		register:   make(chan registration),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and blocks until ctx is cancelled.
// On return every client is disconnected.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			h.logger.Info("hub stopped")
			return nil

		case reg := <-h.register:
			if len(h.clients) >= h.maxClients {
				reg.reply <- ErrFull
				h.logger.Warn("client rejected, limit reached", "max", h.maxClients)
				continue
			}
			h.clients[reg.client] = true
			h.setCount(len(h.clients))
			reg.reply <- nil
			h.logger.Info("client connected", "id", reg.client.ID, "total", len(h.clients))

		case client := <-h.unregister:
			if h.clients[client] {
				h.remove(client)
				h.logger.Info("client disconnected", "id", client.ID, "remaining", len(h.clients))
			}

		case d := <-h.direct:
			if h.clients[d.client] {
				h.deliver(d.client, d.frame)
			}

		case frame := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, frame)
			}
		}
	}
}

// deliver queues frame for client, dropping the client if it is too slow.
func (h *Hub) deliver(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		h.remove(client)
		h.logger.Warn("dropped slow client", "id", client.ID)
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount(len(h.clients))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Register adds conn as a client. It fails with ErrFull at the client limit.
func (h *Hub) Register(conn Conn) (*Client, error) {
	c := &Client{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	reply := make(chan error, 1)
	select {
	case h.register <- registration{client: c, reply: reply}:
	case <-h.done:
		return nil, ErrStopped
	}
	if err := <-reply; err != nil {
		return nil, err
	}
	return c, nil
}

// Broadcast sends a frame to all connected clients
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
		// Broadcast channel full - drop message
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// sendTo queues frame for one client through the hub loop.
func (h *Hub) sendTo(c *Client, frame []byte) {
	select {
	case h.direct <- direct{client: c, frame: frame}:
	case <-h.done:
	default:
		h.logger.Warn("direct channel full, dropping reply", "id", c.ID)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
