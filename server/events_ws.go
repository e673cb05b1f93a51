package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/verdant-labs/verdant/collect"
)

// Websocket timeouts per Gorilla best practices.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait

	clientSendBuffer = 64
)

// eventEnvelope is the wire shape of one emitted signal.
type eventEnvelope struct {
	Type      string        `json:"type"`
	Event     collect.Event `json:"event"`
	Timestamp int64         `json:"timestamp"`
}

// client is one websocket subscriber. Slow clients miss events rather than
// ever blocking the broadcaster.
type client struct {
	id        string
	conn      *websocket.Conn
	send      chan eventEnvelope
	closeOnce sync.Once
}

// close shuts the connection. The send channel is never closed: broadcast
// may still hold a reference, and sending on a closed channel panics. The
// channel is simply dropped once both pumps exit.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// upgrader builds a websocket upgrader honoring the configured origins.
// An empty allowlist accepts same-host requests only.
func (s *Server) upgrader() websocket.Upgrader {
	allowed := s.cfg.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(allowed) == 0 {
				return true
			}
			for _, a := range allowed {
				if a == "*" || a == origin {
					return true
				}
			}
			return false
		},
	}
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan eventEnvelope, clientSendBuffer),
	}

	s.mu.Lock()
	s.clients[c] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.log.Debugw("Websocket client connected", "client_id", c.id, "clients", total)

	s.wg.Add(2)
	go s.writePump(c)
	go s.readPump(c)
}

// readPump consumes (and discards) client messages to process control
// frames; the feed is one-way.
func (s *Server) readPump(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pushes events and pings to one client.
func (s *Server) writePump(c *client) {
	defer s.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// startEventBroadcaster fans emitted signals out to websocket clients.
// Delivery is advisory: a client with a full buffer skips the event.
func (s *Server) startEventBroadcaster() {
	events := s.orch.Emitter().Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.orch.Emitter().Unsubscribe(events)

		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.broadcast(eventEnvelope{
					Type:      ev.EventType(),
					Event:     ev,
					Timestamp: time.Now().Unix(),
				})
			}
		}
	}()
}

// broadcast sends one envelope to every connected client without blocking.
// Returns how many clients accepted it.
func (s *Server) broadcast(env eventEnvelope) int {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		select {
		case c.send <- env:
			sent++
		default:
			// Buffer full, skip.
		}
	}
	return sent
}
