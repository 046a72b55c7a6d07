// Package websocket fans build updates out to live-reload browser clients.
//
// A single hub goroutine owns the client set. Connections register and
// unregister through channels, and broadcasts are queued without blocking
// the build; a client whose send buffer is full is dropped.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/validation"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 16
)

// Hub handles live-reload connections and broadcasting.
type Hub struct {
	clients      map[*Client]struct{}
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	allowedOrigins []string
	logger         logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	hubDone      chan struct{}
	conns        sync.WaitGroup
	shutdownOnce sync.Once
}

// NewHub creates a hub and starts its event loop. Upgrade requests must
// carry an Origin header matching one of allowedOrigins.
func NewHub(allowedOrigins []string, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewDiscard()
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		clients:        make(map[*Client]struct{}),
		broadcast:      make(chan []byte, 64),
		register:       make(chan *Client),
		unregister:     make(chan *Client, 8),
		allowedOrigins: allowedOrigins,
		logger:         logger.WithComponent("livereload"),
		ctx:            ctx,
		cancel:         cancel,
		hubDone:        make(chan struct{}),
	}

	go h.run()

	return h
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if err := validation.ValidateOrigin(origin, h.allowedOrigins); err != nil {
		h.logger.Warn(r.Context(), err, "Live-reload connection rejected",
			"remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was checked above against the configured list.
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		remote: r.RemoteAddr,
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) run() {
	defer close(h.hubDone)

	for {
		select {
		case client := <-h.register:
			h.clientsMutex.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.clientsMutex.Unlock()
			h.conns.Add(1)
			go h.serveClient(client)
			h.logger.Debug(h.ctx, "Client connected", "remote", client.remote, "clients", n)

		case client := <-h.unregister:
			h.drop(client)

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-h.ctx.Done():
			h.clientsMutex.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]struct{})
			h.clientsMutex.Unlock()
			return
		}
	}
}

// drop removes client and closes its send channel. Only the hub goroutine
// calls it.
func (h *Hub) drop(client *Client) {
	h.clientsMutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.clientsMutex.Unlock()

	if ok {
		h.logger.Debug(h.ctx, "Client disconnected", "remote", client.remote, "clients", n)
	}
}

func (h *Hub) fanOut(message []byte) {
	h.clientsMutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn(h.ctx, nil, "Client too slow, dropping", "remote", client.remote)
			h.drop(client)
		}
	}
}

// serveClient writes queued messages until the client goes away or the hub
// shuts down.
func (h *Hub) serveClient(client *Client) {
	defer h.conns.Done()

	// The browser never sends data; CloseRead handles control frames and
	// cancels ctx once the peer closes. Shutdown arrives through a closed
	// send channel so the close handshake can still complete.
	ctx := client.conn.CloseRead(context.Background())

	status, reason := websocket.StatusNormalClosure, ""
	defer func() {
		_ = client.conn.Close(status, reason)
	}()
	defer h.leave(client)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				if h.ctx.Err() != nil {
					status, reason = websocket.StatusGoingAway, "server shutting down"
				}
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := client.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "Write failed", "remote", client.remote, "error", err.Error())
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := client.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.hubDone:
	}
}

// Broadcast queues msg for every connected client. It never blocks; when
// the queue is full or the hub is shut down the message is dropped.
func (h *Hub) Broadcast(msg UpdateMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(h.ctx, err, "Failed to marshal update")
		return
	}

	if h.ctx.Err() != nil {
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(h.ctx, nil, "Broadcast queue full, dropping update", "type", msg.Type)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for the client goroutines to
// exit, or for ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(h.cancel)

	done := make(chan struct{})
	go func() {
		<-h.hubDone
		h.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
