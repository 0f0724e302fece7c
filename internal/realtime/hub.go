// Package realtime streams session and payment events to WebSocket
// clients. A client may narrow its feed by sending a Subscription as a
// JSON text message at any time.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/metrics"
	"github.com/mbd888/tiptap/internal/payment"
	"github.com/mbd888/tiptap/internal/session"
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // native clients send no Origin
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// EventType classifies stream events.
type EventType string

const (
	EventSession       EventType = "session"
	EventTransaction   EventType = "transaction"
	EventAuthorization EventType = "authorization"
)

// Event is one message on the stream.
type Event struct {
	Type       EventType        `json:"type"`
	Name       string           `json:"name"`
	Timestamp  time.Time        `json:"timestamp"`
	UserID     string           `json:"userId,omitempty"`
	MerchantID string           `json:"merchantId,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Data       any              `json:"data,omitempty"`
}

// Subscription filters what a client receives. Empty filters match
// everything.
type Subscription struct {
	AllEvents   bool            `json:"allEvents"`
	EventTypes  []EventType     `json:"eventTypes"`
	UserIDs     []string        `json:"userIds"`
	MerchantIDs []string        `json:"merchantIds"`
	MinAmount   decimal.Decimal `json:"minAmount"`
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients caps concurrent connections.
const MaxClients = 1000

// Stats summarizes hub activity.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalEvents      int64 `json:"totalEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
	DroppedEvents    int64 `json:"droppedEvents"`
}

// Hub fans events out to connected clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int
	now        func() time.Time

	totalEvents   atomic.Int64
	totalClients  atomic.Int64
	peakClients   atomic.Int64
	droppedEvents atomic.Int64
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		now:        time.Now,
	}
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("stream client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("stream client disconnected", "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to encode stream event", "type", event.Type, "error", err)
				continue
			}
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if !client.wants(event) {
					continue
				}
				select {
				case client.send <- payload:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

func (c *Client) wants(event *Event) bool {
	c.mu.RLock()
	sub := c.sub
	c.mu.RUnlock()
	return sub.Matches(event)
}

// Matches reports whether event passes the subscription's filters.
func (s Subscription) Matches(event *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, event.Type) {
		return false
	}
	if len(s.UserIDs) > 0 && !slices.Contains(s.UserIDs, event.UserID) {
		return false
	}
	if len(s.MerchantIDs) > 0 && !slices.Contains(s.MerchantIDs, event.MerchantID) {
		return false
	}
	if s.MinAmount.IsPositive() && event.Amount != nil && event.Amount.Abs().LessThan(s.MinAmount) {
		return false
	}
	return true
}

// Broadcast queues an event. It never blocks; events are dropped when the
// queue is full.
func (h *Hub) Broadcast(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now().UTC()
	}
	select {
	case h.broadcast <- event:
	default:
		h.droppedEvents.Add(1)
		h.logger.Warn("stream queue full, dropping event", "type", event.Type, "name", event.Name)
	}
}

// PublishSession forwards a session lifecycle event. It matches the
// session.Manager listener signature.
func (h *Hub) PublishSession(e session.Event) {
	snap := e.Snapshot()
	h.Broadcast(&Event{
		Type:   EventSession,
		Name:   e.Name(),
		UserID: snap.UserID,
		Data:   e,
	})
}

// PublishTransaction forwards a transaction's current state.
func (h *Hub) PublishTransaction(tx *payment.Transaction) {
	if tx == nil {
		return
	}
	amount := tx.Amount
	h.Broadcast(&Event{
		Type:       EventTransaction,
		Name:       "transaction." + string(tx.Status),
		UserID:     tx.CustomerID,
		MerchantID: tx.MerchantID,
		Amount:     &amount,
		Data:       tx,
	})
}

// PublishAuthorization forwards an authorization verdict.
func (h *Hub) PublishAuthorization(userID, merchantID string, amount decimal.Decimal, verdict any) {
	h.Broadcast(&Event{
		Type:       EventAuthorization,
		Name:       "authorization.decided",
		UserID:     userID,
		MerchantID: merchantID,
		Amount:     &amount,
		Data:       verdict,
	})
}

// Stats returns hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		ConnectedClients: n,
		TotalEvents:      h.totalEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
		DroppedEvents:    h.droppedEvents.Load(),
	}
}

// HandleWebSocket upgrades the request and attaches a client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
		sub:  Subscription{AllEvents: true},
	}
	if userID := r.URL.Query().Get("user"); userID != "" {
		client.sub = Subscription{UserIDs: []string{userID}}
	}

	h.register <- client
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
