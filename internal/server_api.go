package internal

import (
	"errors"
	"net/http"
	"strings"
)

// HandleRooms serves /api/rooms: the full room list (each with its most
// recent message) and room creation.
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rooms, err := s.store.ListRooms(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, roomListResponse{Rooms: storedRooms(rooms)})
	case http.MethodPost:
		var req createRoomRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, errors.New("room name is required"))
			return
		}
		room, err := s.store.CreateRoom(r.Context(), name, strings.TrimSpace(req.Description), req.IsPrivate, user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, storedRoom(room))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// HandleJoinedRooms serves /api/rooms/joined: the caller's membership ids.
func (s *Server) HandleJoinedRooms(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ids, err := s.store.JoinedRoomIDs(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, joinedRoomsResponse{RoomIDs: ids})
}

// HandleRoomSearch serves /api/rooms/search?q= (substring over name and
// description, capped at 20).
func (s *Server) HandleRoomSearch(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	rooms, err := s.store.SearchRooms(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, roomListResponse{Rooms: storedRooms(rooms)})
}

// HandleRoomSubresource routes /api/rooms/{id}/membership and
// /api/rooms/{id}/messages.
func (s *Server) HandleRoomSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	roomID, sub := parts[0], parts[1]
	switch sub {
	case "membership":
		s.handleMembership(w, r, roomID)
	case "messages":
		s.handleRoomMessages(w, r, roomID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleMembership(w http.ResponseWriter, r *http.Request, roomID string) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if room == nil {
		writeError(w, http.StatusNotFound, errors.New("room not found"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		member, err := s.store.IsMember(r.Context(), roomID, user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, membershipResponse{Member: member})
	case http.MethodPut:
		// Idempotent upsert at the store; a repeat join is not a conflict.
		if err := s.store.AddMember(r.Context(), roomID, user.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.broadcastRoomUpdate(r, roomID)
		writeJSON(w, http.StatusOK, membershipResponse{Member: true})
	case http.MethodDelete:
		if err := s.store.RemoveMember(r.Context(), roomID, user.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.broadcastRoomUpdate(r, roomID)
		writeJSON(w, http.StatusOK, membershipResponse{Member: false})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// broadcastRoomUpdate pushes the refreshed room (member count included) to
// everyone currently routed to it.
func (s *Server) broadcastRoomUpdate(r *http.Request, roomID string) {
	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil || room == nil {
		return
	}
	s.hub.BroadcastRoom(roomID, EventRoomUpdate, storedRoom(*room))
}

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request, roomID string) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	member, err := s.store.IsMember(r.Context(), roomID, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, errors.New("not a member of this room"))
		return
	}
	msgs, err := s.store.ListRoomMessages(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, messageListResponse{Messages: storedMessages(msgs)})
}

// HandleMessage serves /api/messages/{id}: author-only edit and delete. The
// store write succeeds first, then the change is pushed to the room so every
// member, the caller included, sees it via the echo.
func (s *Server) HandleMessage(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	messageID := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if messageID == "" || strings.Contains(messageID, "/") {
		http.NotFound(w, r)
		return
	}
	msg, err := s.store.GetMessage(r.Context(), messageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, errors.New("message not found"))
		return
	}
	if msg.UserID != user.ID {
		writeError(w, http.StatusForbidden, errors.New("not the author"))
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var req updateMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		content := strings.TrimSpace(req.Content)
		if content == "" {
			writeError(w, http.StatusBadRequest, errors.New("content is required"))
			return
		}
		updated, err := s.store.UpdateMessage(r.Context(), messageID, content)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.hub.BroadcastRoom(updated.RoomID, EventMessageUpdated, storedMessage(*updated))
		writeJSON(w, http.StatusOK, storedMessage(*updated))
	case http.MethodDelete:
		if err := s.store.DeleteMessage(r.Context(), messageID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.hub.BroadcastRoom(msg.RoomID, EventMessageDeleted, MessageDeleted{MessageID: messageID, RoomID: msg.RoomID})
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, http.MethodPatch, http.MethodDelete)
	}
}

// HandleMessageSearch serves /api/messages/search?q=&room= (substring over
// content, capped at 50, most recent first). Without a room filter the search
// spans the caller's joined rooms only.
func (s *Server) HandleMessageSearch(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	roomID := r.URL.Query().Get("room")
	if roomID != "" {
		member, err := s.store.IsMember(r.Context(), roomID, user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !member {
			writeError(w, http.StatusForbidden, errors.New("not a member of this room"))
			return
		}
	}
	msgs, err := s.store.SearchMessages(r.Context(), query, roomID, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, messageListResponse{Messages: storedMessages(msgs)})
}
