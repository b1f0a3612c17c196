// Package hmr implements the hot-module-reloading channel between the dev
// server and the browser: a websocket hub that fans out change
// notifications, and the client script that reacts to them.
package hmr

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/hotssr/internal/logging"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 64
)

// Message types understood by the client script.
const (
	TypeConnected  = "connected"
	TypeFullReload = "full-reload"
	TypeCSSUpdate  = "css-update"
)

// Message is the JSON payload pushed to browsers.
type Message struct {
	Type      string `json:"type"`
	Path      string `json:"path,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Client is a single connected browser tab.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// HubOptions configures a Hub.
type HubOptions struct {
	// AllowedOrigins are extra origins (scheme://host:port) accepted besides
	// same-host and loopback origins.
	AllowedOrigins []string
	Logger         logging.Logger
	// OnClientsChanged is called with the client count after every
	// connect and disconnect.
	OnClientsChanged func(count int)
}

// Hub tracks connected clients and broadcasts messages to them.
type Hub struct {
	clients        map[*Client]struct{}
	clientsMutex   sync.RWMutex
	allowedOrigins map[string]bool
	logger         logging.Logger
	onChange       func(int)
	closed         bool
}

// NewHub creates an empty hub.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	allowed := make(map[string]bool, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		allowed[origin] = true
	}

	return &Hub{
		clients:        make(map[*Client]struct{}),
		allowedOrigins: allowed,
		logger:         logger.WithComponent("hmr"),
		onChange:       opts.OnClientsChanged,
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	// Origin was verified above.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade error")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}

	hello, _ := json.Marshal(Message{Type: TypeConnected, Timestamp: time.Now().UnixMilli()})
	client.send <- hello

	if !h.register(client) {
		_ = conn.CloseNow()
		return
	}

	go client.writePump()
	client.readPump()
}

// checkOrigin accepts same-host, loopback and explicitly allowed origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return false
	}

	if h.allowedOrigins[originURL.Scheme+"://"+originURL.Host] {
		return true
	}
	if originURL.Host == r.Host {
		return true
	}

	switch originURL.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}

	if ip := net.ParseIP(originURL.Hostname()); ip != nil && ip.IsLoopback() {
		return true
	}

	return false
}

func (h *Hub) register(c *Client) bool {
	h.clientsMutex.Lock()
	if h.closed {
		h.clientsMutex.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.clientsMutex.Unlock()

	h.logger.Debug(context.Background(), "Client connected", "client", c.id, "total", count)
	h.notify(count)
	return true
}

func (h *Hub) unregister(c *Client) {
	h.clientsMutex.Lock()
	if _, ok := h.clients[c]; !ok {
		h.clientsMutex.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.clientsMutex.Unlock()

	h.logger.Debug(context.Background(), "Client disconnected", "client", c.id, "total", count)
	h.notify(count)
}

func (h *Hub) notify(count int) {
	if h.onChange != nil {
		h.onChange(count)
	}
}

// Broadcast sends msg to every client. Clients whose send buffer is full are
// dropped; the browser script reconnects and reloads.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(context.Background(), err, "Failed to marshal message")
		data = []byte(`{"type":"full-reload"}`)
	}

	var slow []*Client

	h.clientsMutex.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.clientsMutex.RUnlock()

	for _, client := range slow {
		h.unregister(client)
		_ = client.conn.CloseNow()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones. Connections are
// dropped without waiting for the peer's close frame, so a frozen tab
// cannot hold up shutdown.
func (h *Hub) Close() {
	h.clientsMutex.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
		close(client.send)
	}
	h.clientsMutex.Unlock()

	for _, client := range clients {
		_ = client.conn.CloseNow()
	}
	h.notify(0)
}

// readPump drains the connection until it fails; clients never send
// anything meaningful.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Cancelling a Read closes the connection, so reads are unbounded and
	// dead peers are detected by the ping in writePump.
	ctx := context.Background()
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && status != -1 {
				c.hub.logger.Debug(context.Background(), "WebSocket read error", "client", c.id, "error", err.Error())
			}
			return
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				_ = c.conn.CloseNow()
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				_ = c.conn.CloseNow()
				return
			}
		}
	}
}
