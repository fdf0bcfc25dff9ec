// Package realtime pushes message events to connected websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

// Client-facing event names.
const (
	EventReceiveMessage = "receiveMessage"
	EventMessageSent    = "messageSent"
	EventMessageUpdated = "messageUpdated"
)

// Frame is what a client reads from the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Hub struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]map[*Client]struct{}
	logger logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{byUser: make(map[uuid.UUID]map[*Client]struct{}), logger: log}
}

// Start subscribes the hub to message events. The returned func unsubscribes.
func (h *Hub) Start(bus service.EventBus) (func(), error) {
	cancelCreated, err := bus.Subscribe(event.MessageCreated, h.onCreated)
	if err != nil {
		return nil, err
	}
	cancelUpdated, err := bus.Subscribe(event.MessageUpdated, h.onUpdated)
	if err != nil {
		cancelCreated()
		return nil, err
	}
	return func() {
		cancelCreated()
		cancelUpdated()
	}, nil
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byUser[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.byUser, c.userID)
	}
}

// Connected reports how many sockets a user has open.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// SendToUser queues a frame on every socket of userID. Slow sockets drop it.
func (h *Hub) SendToUser(userID uuid.UUID, name string, data json.RawMessage) {
	frame, err := json.Marshal(Frame{Event: name, Data: data})
	if err != nil {
		h.logger.Error("Failed to encode frame", err, zap.String("event", name))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("Client send buffer full, dropping frame",
				zap.String("user_id", userID.String()), zap.String("event", name))
		}
	}
}

func (h *Hub) onCreated(ctx context.Context, env event.Envelope) {
	var s event.MessageSummary
	if err := env.Decode(&s); err != nil {
		h.logger.Error("Dropping malformed event", err, zap.String("event", env.Name))
		return
	}
	h.SendToUser(s.ReceiverID, EventReceiveMessage, env.Payload)
	h.SendToUser(s.SenderID, EventMessageSent, env.Payload)
}

func (h *Hub) onUpdated(ctx context.Context, env event.Envelope) {
	var s event.MessageSummary
	if err := env.Decode(&s); err != nil {
		h.logger.Error("Dropping malformed event", err, zap.String("event", env.Name))
		return
	}
	h.SendToUser(s.ReceiverID, EventMessageUpdated, env.Payload)
	if s.SenderID != s.ReceiverID {
		h.SendToUser(s.SenderID, EventMessageUpdated, env.Payload)
	}
}
