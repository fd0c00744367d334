package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Manager is the single entry and exit point for session events. It
// authenticates handshakes, owns the connection and room registries, and
// routes document events through the synchronizer before fanning them
// out.
type Manager struct {
	mu      sync.RWMutex
	rooms   map[string]*Room   // document id -> room
	clients map[string]*Client // connection id -> client

	syncer   *Synchronizer
	auth     *Authenticator
	log      *slog.Logger
	upgrader websocket.Upgrader
	wg       sync.WaitGroup // in-flight disconnect teardowns
}

func NewManager(syncer *Synchronizer, auth *Authenticator, log *slog.Logger) *Manager {
	return &Manager{
		rooms:   make(map[string]*Room),
		clients: make(map[string]*Client),
		syncer:  syncer,
		auth:    auth,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// joinRoom resolves the document's room and admits the connection in one
// step under the registry lock, so a concurrent leave by the room's last
// member can never retire the room between lookup and admission.
func (m *Manager) joinRoom(c *Client, docID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, exists := m.rooms[docID]
	if !exists {
		room = NewRoom(docID)
		m.rooms[docID] = room
	}
	room.addClient(c)
	return room
}

func (m *Manager) getRoom(docID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, exists := m.rooms[docID]
	return room, exists
}

// leaveRoom drops the connection from the document's room and retires
// the room once its last member is gone.
func (m *Manager) leaveRoom(c *Client, docID string) {
	room, exists := m.getRoom(docID)
	if !exists {
		return
	}
	if room.removeClient(c) == 0 {
		m.mu.Lock()
		if r, ok := m.rooms[docID]; ok && r.size() == 0 {
			delete(m.rooms, docID)
		}
		m.mu.Unlock()
	}
}

// removeClient handles a disconnect: an implicit leave, with its durable
// flush, for every room the connection had joined.
func (m *Manager) removeClient(c *Client) {
	defer m.wg.Done()

	m.mu.Lock()
	delete(m.clients, c.id)
	m.mu.Unlock()

	for _, docID := range c.joinedDocs() {
		c.leaveDoc(docID)
		m.leaveRoom(c, docID)

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if err := m.syncer.Flush(ctx, docID); err != nil {
			m.log.Error("flush on disconnect failed", "docId", docID, "connId", c.id, "error", err)
		}
		cancel()
	}
}

// Event handlers

func (m *Manager) handleJoinDocument(ctx context.Context, ev Event, c *Client) error {
	var payload JoinDocumentPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if payload.DocumentID == "" {
		return ErrMissingDocumentID
	}

	m.joinRoom(c, payload.DocumentID)
	c.joinDoc(payload.DocumentID)

	content, err := m.syncer.Load(ctx, payload.DocumentID)
	if err != nil {
		// Roll the membership back so a room never outlives a failed
		// join against a document that does not exist.
		c.leaveDoc(payload.DocumentID)
		m.leaveRoom(c, payload.DocumentID)
		return err
	}

	c.log.Info("joined document", "docId", payload.DocumentID)
	c.send(newEvent(EventLoadDocument, LoadDocumentPayload{Content: content}))
	return nil
}

func (m *Manager) handleEditDocument(ctx context.Context, ev Event, c *Client) error {
	var payload EditDocumentPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if payload.DocumentID == "" {
		return ErrMissingDocumentID
	}
	if !c.hasJoined(payload.DocumentID) {
		return errors.New("not joined to document")
	}

	room, exists := m.getRoom(payload.DocumentID)
	if !exists {
		return errors.New("not joined to document")
	}

	update := newEvent(EventDocumentUpdate, DocumentUpdatePayload{
		DocumentID: payload.DocumentID,
		Content:    payload.Content,
		UserID:     c.identity.UserID,
		Username:   c.identity.Username,
	})

	// The broadcast runs inside the per-document critical section, after
	// the cache write for this edit has completed.
	m.syncer.Apply(ctx, payload.DocumentID, payload.Content,
		func() { room.broadcastExcept(c.id, update) },
		func(err error) {
			c.sendError("failed to persist edit: " + err.Error())
		},
	)
	return nil
}

func (m *Manager) handleLeaveDocument(ctx context.Context, ev Event, c *Client) error {
	var payload LeaveDocumentPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if payload.DocumentID == "" {
		return ErrMissingDocumentID
	}
	if !c.leaveDoc(payload.DocumentID) {
		return errors.New("not joined to document")
	}

	m.leaveRoom(c, payload.DocumentID)
	c.log.Info("left document", "docId", payload.DocumentID)

	// Every departure checkpoints the document, even while other editors
	// remain in the room.
	if err := m.syncer.Flush(ctx, payload.DocumentID); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	return nil
}

func (m *Manager) routeEvent(ev Event, c *Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch ev.Type {
	case EventJoinDocument:
		return m.handleJoinDocument(ctx, ev, c)
	case EventEditDocument:
		return m.handleEditDocument(ctx, ev, c)
	case EventLeaveDocument:
		return m.handleLeaveDocument(ctx, ev, c)
	default:
		return fmt.Errorf("unknown event type: %s", ev.Type)
	}
}

// serveWs authenticates the handshake and admits the connection. A
// connection that fails authentication is rejected outright; no partial
// session exists.
func (m *Manager) serveWs(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}

	identity, err := m.auth.Authenticate(token)
	if err != nil {
		m.log.Info("handshake rejected", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := NewClient(conn, m, identity)
	m.wg.Add(1) // matched by removeClient when the read pump exits
	m.mu.Lock()
	m.clients[client.id] = client
	m.mu.Unlock()

	client.log.Info("client connected", "username", identity.Username)

	go client.readMessages()
	go client.writeMessages()
}

// closeAll disconnects every client. Each close tears the connection
// down, which drives the usual disconnect flush path.
func (m *Manager) closeAll() {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		c.closeConn()
	}
}

// wait blocks until every disconnect teardown, including its durable
// flush, has finished. Call after closeAll and before shutting down the
// synchronizer's backends.
func (m *Manager) wait() {
	m.wg.Wait()
}
