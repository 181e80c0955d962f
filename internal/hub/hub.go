// Package hub implements the room-scoped broadcast layer. Rooms are
// addressable groups of connections, one per business and one per end user.
// Membership is explicit: a connection receives nothing until it joins a
// room, and delivery is at-most-once with no replay for late joiners.
package hub

import (
	"log"
	"sync"
)

const sendBufferSize = 64

func BusinessRoom(businessID string) string { return "business:" + businessID }
func UserRoom(userID string) string        { return "user:" + userID }

// Client is one connected session. Send is its single outbound stream, so
// events delivered to the same client preserve emission order.
type Client struct {
	ID   string
	Role string
	Send chan []byte
}

func NewClient(id, role string) *Client {
	return &Client{ID: id, Role: role, Send: make(chan []byte, sendBufferSize)}
}

// Hub owns the connection registry. It is the single writer of room
// membership; everyone else only asks it to broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	// membership mirrors rooms from the client side, used for cleanup
	// and diagnostics only.
	membership map[string]map[string]struct{}
}

func New() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		membership: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.membership[client.ID] = make(map[string]struct{})
}

// Unregister removes the client from every room it joined and closes its
// outbound stream.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	for room := range h.membership[clientID] {
		h.dropFromRoom(room, clientID)
	}
	delete(h.membership, clientID)
	delete(h.clients, clientID)
	close(client.Send)
}

func (h *Hub) Join(clientID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[clientID]
	if !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[clientID] = client
	h.membership[clientID][room] = struct{}{}
	return true
}

func (h *Hub) Leave(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[clientID]; !ok {
		return
	}
	h.dropFromRoom(room, clientID)
	delete(h.membership[clientID], room)
}

func (h *Hub) dropFromRoom(room, clientID string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast delivers the message to every current member of the room. A slow
// client with a full buffer loses the message rather than stalling the rest
// of the room.
func (h *Hub) Broadcast(room string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for id, client := range h.rooms[room] {
		select {
		case client.Send <- message:
			delivered++
		default:
			log.Printf("hub: dropping message for slow client id=%s room=%s", id, room)
		}
	}
	return delivered
}

// Rooms reports the rooms the client currently belongs to.
func (h *Hub) Rooms(clientID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	joined := h.membership[clientID]
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	return rooms
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
