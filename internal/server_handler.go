package internal

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS authenticates the handshake (bearer token in the query string),
// upgrades, and starts the pumps. Room routing is established afterwards by
// join_room commands, never here.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	token := request.URL.Query().Get("token")
	if token == "" {
		http.Error(writer, "missing token query param", http.StatusUnauthorized)
		return
	}
	user, err := s.authenticateToken(request.Context(), token)
	if err != nil {
		http.Error(writer, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	client := newWSClient(s, conn, user.ID, user.Username)
	s.hub.register(client)
	s.metrics.ActiveConns.Inc()
	if s.presence.Connected(user.ID) {
		s.hub.BroadcastAll(EventUserStatus, s.presence.Status(user.ID, user.Username))
	}

	go client.writePump()
	go client.readPump()
}
