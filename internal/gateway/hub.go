package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/brandpulse/pkg/logger"
)

// Event is the frame written to websocket clients.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// BrandRoom names the delivery group for a brand.
func BrandRoom(brandID uuid.UUID) string {
	return "brand:" + brandID.String()
}

// UserRoom names the delivery group for a user.
func UserRoom(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// Hub tracks room membership for connected clients.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	member map[*Client][]string
	closed bool
	logg   *logger.Logger
}

// NewHub returns an empty hub.
func NewHub(logg *logger.Logger) *Hub {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		member: make(map[*Client][]string),
		logg:   logg,
	}
}

// Join adds the client to every named room.
func (h *Hub) Join(c *Client, rooms ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("gateway hub closed")
	}
	for _, room := range rooms {
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[*Client]struct{})
			h.rooms[room] = members
		}
		if _, already := members[c]; already {
			continue
		}
		members[c] = struct{}{}
		h.member[c] = append(h.member[c], room)
	}
	return nil
}

// Leave removes the client from all rooms and closes its send buffer.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	rooms, ok := h.member[c]
	if !ok {
		return
	}
	for _, room := range rooms {
		members := h.rooms[room]
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.member, c)
	close(c.send)
}

// RoomSize reports the number of clients currently in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.member)
}

// DeliverToRoom queues the event for every member of room. Clients whose
// buffer is full are evicted. It reports whether any client received it.
func (h *Hub) DeliverToRoom(room, event string, payload any) bool {
	frame, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		h.logg.Error(context.Background(), "marshal gateway event", err)
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := false
	var slow []*Client
	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
			delivered = true
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		ctx := h.logg.WithFields(context.Background(), map[string]any{"room": room, "client_id": c.id})
		h.logg.Warn(ctx, "evicting slow websocket client")
		h.removeLocked(c)
	}
	return delivered
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.Close()
	return nil
}

// Close disconnects all clients and rejects further joins.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.member {
		h.removeLocked(c)
	}
}
