package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	httpTimeout     = 5 * time.Second
	errUnauthorized = errors.New("unauthorized")
)

// HTTPDirectory implements Directory against the expenso server's REST API,
// authenticating every call with the current session token.
type HTTPDirectory struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

// NewHTTPDirectory builds a directory client for an http(s) base URL.
func NewHTTPDirectory(baseURL string, tokens TokenSource) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"is_private"`
}

type roomListResponse struct {
	Rooms []Room `json:"rooms"`
}

type joinedRoomsResponse struct {
	RoomIDs []string `json:"room_ids"`
}

type membershipResponse struct {
	Member bool `json:"member"`
}

type messageListResponse struct {
	Messages []Message `json:"messages"`
}

type updateMessageRequest struct {
	Content string `json:"content"`
}

func (d *HTTPDirectory) ListRooms(ctx context.Context) ([]Room, error) {
	var resp roomListResponse
	if err := d.do(ctx, http.MethodGet, "/api/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (d *HTTPDirectory) CreateRoom(ctx context.Context, name, description string, isPrivate bool) (Room, error) {
	var room Room
	req := createRoomRequest{Name: name, Description: description, IsPrivate: isPrivate}
	if err := d.do(ctx, http.MethodPost, "/api/rooms", req, &room); err != nil {
		return Room{}, err
	}
	return room, nil
}

func (d *HTTPDirectory) SearchRooms(ctx context.Context, query string) ([]Room, error) {
	var resp roomListResponse
	path := "/api/rooms/search?q=" + url.QueryEscape(query)
	if err := d.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (d *HTTPDirectory) JoinedRoomIDs(ctx context.Context) ([]string, error) {
	var resp joinedRoomsResponse
	if err := d.do(ctx, http.MethodGet, "/api/rooms/joined", nil, &resp); err != nil {
		return nil, err
	}
	return resp.RoomIDs, nil
}

func (d *HTTPDirectory) IsMember(ctx context.Context, roomID string) (bool, error) {
	var resp membershipResponse
	path := "/api/rooms/" + url.PathEscape(roomID) + "/membership"
	if err := d.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Member, nil
}

func (d *HTTPDirectory) AddMember(ctx context.Context, roomID string) error {
	path := "/api/rooms/" + url.PathEscape(roomID) + "/membership"
	return d.do(ctx, http.MethodPut, path, nil, nil)
}

func (d *HTTPDirectory) RemoveMember(ctx context.Context, roomID string) error {
	path := "/api/rooms/" + url.PathEscape(roomID) + "/membership"
	return d.do(ctx, http.MethodDelete, path, nil, nil)
}

func (d *HTTPDirectory) RoomMessages(ctx context.Context, roomID string) ([]Message, error) {
	var resp messageListResponse
	path := "/api/rooms/" + url.PathEscape(roomID) + "/messages"
	if err := d.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (d *HTTPDirectory) UpdateMessage(ctx context.Context, messageID, content string) error {
	path := "/api/messages/" + url.PathEscape(messageID)
	return d.do(ctx, http.MethodPatch, path, updateMessageRequest{Content: content}, nil)
}

func (d *HTTPDirectory) DeleteMessage(ctx context.Context, messageID string) error {
	path := "/api/messages/" + url.PathEscape(messageID)
	return d.do(ctx, http.MethodDelete, path, nil, nil)
}

func (d *HTTPDirectory) SearchMessages(ctx context.Context, query, roomID string) ([]Message, error) {
	var resp messageListResponse
	params := url.Values{}
	params.Set("q", query)
	if roomID != "" {
		params.Set("room", roomID)
	}
	if err := d.do(ctx, http.MethodGet, "/api/messages/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// do issues one authenticated JSON request and decodes the response into out.
func (d *HTTPDirectory) do(ctx context.Context, method, path string, payload, out interface{}) error {
	token, err := d.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return errUnauthorized
	}
	return doJSONRequest(ctx, d.client, method, d.baseURL+path, token, payload, out)
}

// doJSONRequest is the shared REST helper: marshal the payload, set the
// bearer token, and decode the JSON reply.
func doJSONRequest(ctx context.Context, client *http.Client, method, endpoint, token string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

// httpBaseFromWSURL converts the websocket endpoint into the matching REST
// base, e.g. wss://host/ws -> https://host.
func httpBaseFromWSURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
