package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"expenso/internal/storage"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// Server owns the source-of-truth side: the sqlite store, the fan-out hub,
// presence, auth, and the REST surface the client's directory talks to.
type Server struct {
	store       *storage.Store
	hub         *Hub
	presence    *PresenceTracker
	metrics     *Metrics
	authLimiter *RateLimiter
	jwtSecret   []byte
	tokenTTL    time.Duration
}

// NewServer wires a server around an opened store. The JWT secret signs the
// session tokens; rotating it invalidates every outstanding login.
func NewServer(store *storage.Store, jwtSecret []byte) *Server {
	metrics := NewMetrics()
	return &Server{
		store:       store,
		hub:         NewHub(metrics),
		presence:    NewPresenceTracker(),
		metrics:     metrics,
		authLimiter: NewRateLimiter(10, time.Minute),
		jwtSecret:   jwtSecret,
		tokenTTL:    defaultTokenTTL,
	}
}

// Close stops background work.
func (s *Server) Close() { s.hub.Close() }

// MetricsHandler serves the Prometheus registry.
func (s *Server) MetricsHandler() http.Handler { return s.metrics.Handler() }

// issueToken signs a JWT whose jti is persisted as the session row, so a
// logout can revoke the token before it expires.
func (s *Server) issueToken(ctx context.Context, user *storage.User) (string, time.Time, error) {
	jti := uuid.NewString()
	expiresAt := time.Now().Add(s.tokenTTL)
	claims := jwt.MapClaims{
		"sub":  fmt.Sprintf("%d", user.ID),
		"name": user.Username,
		"jti":  jti,
		"exp":  expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.store.CreateSession(ctx, user.ID, jti, expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// authenticateToken verifies the JWT signature, then requires a live session
// row for its jti. Returns the authenticated user.
func (s *Server) authenticateToken(ctx context.Context, token string) (*storage.User, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, errors.New("missing jti")
	}
	session, err := s.store.GetSession(ctx, jti)
	if err != nil {
		return nil, err
	}
	if session == nil || time.Now().After(session.ExpiresAt) {
		return nil, errors.New("session expired")
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("unknown user")
	}
	return user, nil
}

// revokeToken deletes the session row behind a still-valid token.
func (s *Server) revokeToken(ctx context.Context, token string) error {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("invalid claims")
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return errors.New("missing jti")
	}
	return s.store.DeleteSession(ctx, jti)
}

// authenticate extracts and verifies the bearer token from a request.
func (s *Server) authenticate(r *http.Request) (*storage.User, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.New("missing bearer token")
	}
	return s.authenticateToken(r.Context(), strings.TrimPrefix(header, "Bearer "))
}

func (s *Server) clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

// storedMessage converts a storage row into its wire shape.
func storedMessage(msg storage.Message) Message {
	return Message{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		Content:   msg.Content,
		Type:      msg.Type,
		ReplyTo:   msg.ReplyTo,
		IsEdited:  msg.IsEdited,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}
}

// storedRoom converts a storage row into its wire shape.
func storedRoom(room storage.Room) Room {
	out := Room{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		IsPrivate:   room.IsPrivate,
		CreatedBy:   room.CreatedBy,
		CreatedAt:   room.CreatedAt,
		MemberCount: room.MemberCount,
	}
	if room.LastMessage != nil {
		msg := storedMessage(*room.LastMessage)
		out.LastMessage = &msg
	}
	return out
}

func storedMessages(msgs []storage.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, storedMessage(msg))
	}
	return out
}

func storedRooms(rooms []storage.Room) []Room {
	out := make([]Room, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, storedRoom(room))
	}
	return out
}
