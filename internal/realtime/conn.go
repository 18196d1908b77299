package realtime

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"brewery-presence-backend/config"
)

// Server upgrades HTTP requests and runs one read and one write pump per connection.
type Server struct {
	hub         *Hub
	registry    *Registry
	broadcaster *Broadcaster
	commands    *Commands
	presence    PresenceCommands
	cfg         config.RealtimeConfig
	offline     bool
	upgrader    websocket.Upgrader
}

// NewServer creates a websocket server. When offlineOnDisconnect is set, a
// user whose last connection closes is marked offline.
func NewServer(hub *Hub, registry *Registry, broadcaster *Broadcaster, commands *Commands, p PresenceCommands, cfg config.RealtimeConfig, offlineOnDisconnect bool) *Server {
	s := &Server{
		hub:         hub,
		registry:    registry,
		broadcaster: broadcaster,
		commands:    commands,
		presence:    p,
		cfg:         cfg,
		offline:     offlineOnDisconnect,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Host {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request for an authenticated user. The pumps run on
// their own goroutines so the caller returns right after the handshake.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed for user %s: %v", userID, err)
		return
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.CommandsPerSec), s.cfg.CommandBurst)
	client := NewClient(userID, s.cfg.SendBuffer, limiter)
	s.hub.Register(client)
	log.Printf("Connection %s opened for user %s", client.ID, userID)

	go s.writePump(conn, client)
	go s.readPump(conn, client)
}

func (s *Server) readPump(conn *websocket.Conn, c *Client) {
	defer s.disconnect(conn, c)

	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Connection %s read error: %v", c.ID, err)
			}
			return
		}
		s.commands.Handle(context.Background(), c, msg)
	}
}

func (s *Server) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(s.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("Connection %s write error: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// disconnect tears a connection down. The client is closed before its
// subscriptions go so no roster is queued mid-teardown.
func (s *Server) disconnect(conn *websocket.Conn, c *Client) {
	_, last := s.hub.Unregister(c.ID)
	s.registry.RemoveConnection(c.ID)
	s.broadcaster.Forget(c.ID)
	conn.Close()
	log.Printf("Connection %s closed for user %s", c.ID, c.UserID)

	if last && s.offline {
		s.markOffline(c.UserID)
	}
}

func (s *Server) markOffline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommandTimeout)
	defer cancel()

	// The reconnect check runs under the user's presence lock, so an update
	// from a new connection is never overwritten.
	keep := func() bool { return s.hub.Connected(userID) }
	if _, err := s.presence.GoOffline(ctx, userID, keep); err != nil {
		log.Printf("Error marking user %s offline: %v", userID, err)
	}
}
