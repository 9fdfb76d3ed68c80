package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Conn is the part of a websocket connection the hub writes to
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type client struct {
	conn Conn
	mu   sync.Mutex
}

// Hub fans events out to the websocket connections of their user. Events
// for users with no open connection are dropped; they were already logged.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	logger  *zap.Logger

	onOpen  func()
	onClose func()
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		logger:  logger,
	}
}

// OnConnection registers callbacks run when connections open and close
func (h *Hub) OnConnection(open, closed func()) {
	h.onOpen = open
	h.onClose = closed
}

// Register adds a connection for userID and returns a func that removes it
func (h *Hub) Register(userID string, conn Conn) func() {
	c := &client{conn: conn}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()
	if h.onOpen != nil {
		h.onOpen()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients[userID], c)
			if len(h.clients[userID]) == 0 {
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			if h.onClose != nil {
				h.onClose()
			}
		})
	}
}

// Connected counts the open connections of a user
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Send writes the event to every connection of its user. A connection that
// fails to write is closed and dropped.
func (h *Hub) Send(_ context.Context, ev Event) error {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[ev.UserID]))
	for c := range h.clients[ev.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.mu.Lock()
		err := c.conn.WriteJSON(ev)
		c.mu.Unlock()
		if err != nil {
			h.logger.Debug("Dropping websocket client", zap.String("user_id", ev.UserID), zap.Error(err))
			h.mu.Lock()
			delete(h.clients[ev.UserID], c)
			h.mu.Unlock()
			c.conn.Close()
		}
	}
	return nil
}
