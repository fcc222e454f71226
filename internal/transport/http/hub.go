package http

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"trivia-session-service/internal/domain"
)

// DefaultSendBuffer is the per-connection outbound queue length.
const DefaultSendBuffer = 64

type outboundMessage[T any] struct {
	Type    domain.EventType `json:"type"`
	Payload T                `json:"payload"`
}

func encodeEvent(eventType domain.EventType, payload any) ([]byte, error) {
	return json.Marshal(outboundMessage[any]{Type: eventType, Payload: payload})
}

// Hub fans events out to websocket connections. Each connection owns a
// bounded queue; a full queue drops the event instead of stalling the room.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]chan []byte
	rooms  map[string]map[string]struct{}
	buffer int
	logger logrus.FieldLogger
}

func NewHub(logger logrus.FieldLogger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Hub{
		conns:  make(map[string]chan []byte),
		rooms:  make(map[string]map[string]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Register creates the outbound queue for connID. The channel is closed by
// Unregister.
func (h *Hub) Register(connID string) <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	send := make(chan []byte, h.buffer)
	h.conns[connID] = send
	return send
}

// Unregister drops connID from every room and closes its queue.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	send, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	for code, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, code)
		}
	}
	close(send)
}

func (h *Hub) Subscribe(code, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	members, ok := h.rooms[code]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[code] = members
	}
	members[connID] = struct{}{}
}

func (h *Hub) Unsubscribe(code, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[code]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, code)
	}
}

// BroadcastToRoom marshals once and enqueues on every member except
// exceptConnID.
func (h *Hub) BroadcastToRoom(code string, event domain.RoomEvent, exceptConnID string) {
	data, err := encodeEvent(event.Type(), event)
	if err != nil {
		h.logger.WithError(err).WithField("event", event.Type()).Error("encode room event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.rooms[code] {
		if connID == exceptConnID {
			continue
		}
		h.enqueue(connID, event.Type(), data)
	}
}

func (h *Hub) Unicast(connID string, event domain.DirectEvent) {
	data, err := encodeEvent(event.Type(), event)
	if err != nil {
		h.logger.WithError(err).WithField("event", event.Type()).Error("encode direct event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.enqueue(connID, event.Type(), data)
}

// RoomSize reports how many connections are subscribed to code.
func (h *Hub) RoomSize(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(connID string, eventType domain.EventType, data []byte) {
	send, ok := h.conns[connID]
	if !ok {
		return
	}
	select {
	case send <- data:
	default:
		h.logger.WithFields(logrus.Fields{
			"conn":  connID,
			"event": eventType,
		}).Warn("send queue full, dropping event")
	}
}
