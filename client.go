package main

import (
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one authenticated websocket connection. It tracks which
// document rooms it has joined; disconnecting implicitly leaves all of
// them.
type Client struct {
	id       string
	identity Identity

	conn    *websocket.Conn
	manager *Manager
	log     *slog.Logger
	egress  chan Event

	mu        sync.RWMutex
	docs      map[string]bool // joined document ids
	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(conn *websocket.Conn, m *Manager, identity Identity) *Client {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	id := uuid.NewString()
	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		manager:  m,
		log:      m.log.With("connId", id, "userId", identity.UserID),
		egress:   make(chan Event, egressBuffer),
		docs:     make(map[string]bool),
		done:     make(chan struct{}),
	}
}

func (c *Client) joinDoc(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[docID] = true
}

func (c *Client) leaveDoc(docID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.docs[docID] {
		return false
	}
	delete(c.docs, docID)
	return true
}

func (c *Client) hasJoined(docID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs[docID]
}

func (c *Client) joinedDocs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	docs := make([]string, 0, len(c.docs))
	for docID := range c.docs {
		docs = append(docs, docID)
	}
	return docs
}

func (c *Client) readMessages() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic recovered in readMessages", "panic", r)
		}
		c.manager.removeClient(c)
		c.closeConn()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("client disconnected")
			} else if websocket.IsCloseError(err, websocket.CloseAbnormalClosure) {
				// Common when the client crashes or drops the network;
				// not worth an error-level entry.
				c.log.Info("client disconnected abnormally")
			} else {
				c.log.Warn("read failed", "error", err)
			}
			break
		}

		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			c.log.Warn("invalid event json", "error", err)
			c.sendError("failed to parse event")
			continue
		}

		if err := c.manager.routeEvent(event, c); err != nil {
			c.log.Warn("event rejected", "event", event.Type, "error", err)
			c.sendError(err.Error())
		}
	}
}

func (c *Client) writeMessages() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic recovered in writeMessages", "panic", r)
		}
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case message := <-c.egress:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				if !isBenignCloseError(err) {
					c.log.Warn("write failed", "error", err)
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !isBenignCloseError(err) {
					c.log.Warn("ping failed", "error", err)
				}
				return
			}

		case <-c.done:
			// The write pump owns the connection's write side, so the
			// close frame goes out from here, not from closeConn.
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// send queues an event without blocking; a full egress buffer drops the
// event rather than stalling the room.
func (c *Client) send(ev Event) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.egress <- ev:
	default:
		c.log.Warn("egress full, dropping event", "event", ev.Type)
	}
}

func (c *Client) sendError(message string) {
	c.send(newEvent(EventError, ErrorPayload{Message: message}))
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()

		// egress is left open; the write pump exits through done, and
		// send() never blocks, so nothing leaks.
	})
}

// isBenignCloseError reports whether a write error is the ordinary
// result of the peer going away.
func isBenignCloseError(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) ||
		websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		return true
	}
	errStr := err.Error()
	if netErr, ok := err.(*net.OpError); ok && netErr.Err != nil {
		errStr = netErr.Err.Error()
	}
	return strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "use of closed network connection")
}
