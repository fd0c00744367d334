package main

import (
	"sync"
)

// Room is the set of connections currently joined to one document id.
// Membership is mutated only by the Manager; a room is dropped from the
// registry as soon as it empties.
type Room struct {
	docID   string
	mu      sync.RWMutex
	clients map[string]*Client // connection id -> client
}

func NewRoom(docID string) *Room {
	return &Room{
		docID:   docID,
		clients: make(map[string]*Client),
	}
}

// addClient admits a connection. Adding a member twice is a no-op, which
// makes join-document idempotent.
func (r *Room) addClient(c *Client) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.id] = c
}

// removeClient drops a connection and reports the remaining member
// count so the caller can retire an empty room.
func (r *Room) removeClient(c *Client) int {
	if c == nil {
		return r.size()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c.id)
	return len(r.clients)
}

func (r *Room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// broadcastExcept relays an event to every member except the originating
// connection.
func (r *Room) broadcastExcept(excludeConnID string, ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID, client := range r.clients {
		if connID != excludeConnID && client != nil {
			client.send(ev)
		}
	}
}
