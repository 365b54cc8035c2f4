package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/glimpse/internal/eventbus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer. Clients only listen.
	maxMessageSize = 512

	statusShutdown = websocket.StatusGoingAway
)

// client relays one bus subscription to one websocket.
type client struct {
	conn      *websocket.Conn
	sub       *eventbus.Subscription
	server    *Server
	closeOnce sync.Once
}

// checkOrigin lets non-browser clients through; browsers always send an
// Origin header.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.isAllowedOrigin(origin)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		s.unavailable(w, r, "event stream")
		return
	}
	if !s.checkOrigin(r) {
		s.logger.Warn(r.Context(), nil, "Rejected websocket origin", "origin", r.Header.Get("Origin"))
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	// checkOrigin has already applied the allow list.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, server: s}
	if !s.register(c) {
		conn.Close(statusShutdown, "server shutting down")
		return
	}
	defer s.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.writePump(ctx, cancel)
	c.readPump(ctx)
}

func (s *Server) register(c *client) bool {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	if s.isShutdown {
		return false
	}
	c.sub = s.deps.Events.Subscribe()
	s.clients[c] = struct{}{}
	s.clientsWG.Add(1)
	s.logger.Info(context.Background(), "Client connected", "total", len(s.clients))
	return true
}

func (s *Server) unregister(c *client) {
	s.clientsMutex.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	total := len(s.clients)
	s.clientsMutex.Unlock()

	c.close()
	c.conn.CloseNow()
	if ok {
		s.clientsWG.Done()
		s.logger.Info(context.Background(), "Client disconnected", "total", total)
	}
}

// close ends the subscription, which makes writePump send a close frame.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.sub.Close()
	})
}

// readPump drains the connection so control frames are processed. It
// returns when the peer goes away.
func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.server.logger.Debug(ctx, "WebSocket read ended", "error", err.Error())
			}
			return
		}
	}
}

// writePump writes bus events in order and pings the peer.
func (c *client) writePump(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	events := c.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				c.conn.Close(statusShutdown, "server shutting down")
				return
			}

			message, err := json.Marshal(event)
			if err != nil {
				c.server.logger.Warn(ctx, err, "Failed to marshal event", "event", event.Name)
				continue
			}

			writeCtx, writeCancel := context.WithTimeout(ctx, writeWait)
			err = c.conn.Write(writeCtx, websocket.MessageText, message)
			writeCancel()
			if err != nil {
				c.server.logger.Debug(ctx, "WebSocket write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				return
			}
		}
	}
}
