package websocket

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Server upgrades authenticated HTTP requests into engine connections.
type Server struct {
	hub            *Hub
	engine         Engine
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewServer creates a websocket server. Requests without an Origin header
// and localhost origins are always accepted.
func NewServer(hub *Hub, engine Engine, allowedOrigins []string) *Server {
	s := &Server{
		hub:            hub,
		engine:         engine,
		allowedOrigins: allowedOrigins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(origin, allowed) {
			return true
		}
	}

	if strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:") {
		return true
	}

	slog.Warn("Rejected websocket origin", "origin", origin)
	return false
}

// ServeWS upgrades the request for an already authenticated userID.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "userID", userID, "error", err)
		return
	}

	client := NewClient(s.hub, s.engine, conn, userID)
	slog.Info("WebSocket client connected", "clientID", client.ID(), "userID", userID)
	client.start()
}

func (s *Server) Hub() *Hub {
	return s.hub
}
