package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"expenso/internal/storage"
)

var serverDBCounter atomic.Int64

func newTestServer(t *testing.T) *Server {
	t.Helper()
	name := fmt.Sprintf("servertest%d", serverDBCounter.Add(1))
	store, err := storage.NewStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	srv := NewServer(store, []byte("test-secret"))
	t.Cleanup(srv.Close)
	return srv
}

// call runs one handler against a synthetic request and decodes the JSON
// response into out when out is non-nil.
func call(t *testing.T, handler http.HandlerFunc, method, target, token string, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code
}

func signupAndLogin(t *testing.T, srv *Server, username string) loginResponse {
	t.Helper()
	creds := signupRequest{Username: username, Password: "hunter22"}
	if code := call(t, srv.HandleSignup, http.MethodPost, "/signup", "", creds, nil); code != http.StatusCreated {
		t.Fatalf("signup %s: status %d", username, code)
	}
	var login loginResponse
	if code := call(t, srv.HandleLogin, http.MethodPost, "/login", "", creds, &login); code != http.StatusOK {
		t.Fatalf("login %s: status %d", username, code)
	}
	if login.Token == "" || login.UserID == 0 {
		t.Fatalf("login %s: incomplete response %+v", username, login)
	}
	return login
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)

	login := signupAndLogin(t, srv, "alice")

	creds := signupRequest{Username: "alice", Password: "other"}
	if code := call(t, srv.HandleSignup, http.MethodPost, "/signup", "", creds, nil); code != http.StatusConflict {
		t.Fatalf("duplicate signup: want 409, got %d", code)
	}
	if code := call(t, srv.HandleLogin, http.MethodPost, "/login", "", creds, nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong password: want 401, got %d", code)
	}

	// Token works until logout revokes its session row.
	if code := call(t, srv.HandleJoinedRooms, http.MethodGet, "/api/rooms/joined", login.Token, nil, nil); code != http.StatusOK {
		t.Fatalf("joined rooms with live token: status %d", code)
	}
	if code := call(t, srv.HandleLogout, http.MethodPost, "/logout", login.Token, nil, nil); code != http.StatusOK {
		t.Fatalf("logout: status %d", code)
	}
	if code := call(t, srv.HandleJoinedRooms, http.MethodGet, "/api/rooms/joined", login.Token, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("joined rooms with revoked token: want 401, got %d", code)
	}
}

func TestRoomLifecycle(t *testing.T) {
	srv := newTestServer(t)
	alice := signupAndLogin(t, srv, "alice")
	bob := signupAndLogin(t, srv, "bob")

	var room Room
	create := createRoomRequest{Name: "groceries", Description: "weekly shop"}
	if code := call(t, srv.HandleRooms, http.MethodPost, "/api/rooms", alice.Token, create, &room); code != http.StatusCreated {
		t.Fatalf("create room: status %d", code)
	}
	if room.ID == "" || room.Name != "groceries" {
		t.Fatalf("create room: unexpected payload %+v", room)
	}

	membershipPath := "/api/rooms/" + room.ID + "/membership"
	var membership membershipResponse
	if code := call(t, srv.HandleRoomSubresource, http.MethodGet, membershipPath, alice.Token, nil, &membership); code != http.StatusOK {
		t.Fatalf("membership check: status %d", code)
	}
	if membership.Member {
		t.Fatal("creator should not be a member before joining")
	}
	for i := 0; i < 2; i++ {
		if code := call(t, srv.HandleRoomSubresource, http.MethodPut, membershipPath, alice.Token, nil, &membership); code != http.StatusOK {
			t.Fatalf("join attempt %d: status %d", i+1, code)
		}
		if !membership.Member {
			t.Fatalf("join attempt %d: not a member", i+1)
		}
	}

	var listed roomListResponse
	if code := call(t, srv.HandleRooms, http.MethodGet, "/api/rooms", bob.Token, nil, &listed); code != http.StatusOK {
		t.Fatalf("list rooms: status %d", code)
	}
	if len(listed.Rooms) != 1 || listed.Rooms[0].MemberCount != 1 {
		t.Fatalf("list rooms: got %+v", listed.Rooms)
	}

	messagesPath := "/api/rooms/" + room.ID + "/messages"
	if code := call(t, srv.HandleRoomSubresource, http.MethodGet, messagesPath, bob.Token, nil, nil); code != http.StatusForbidden {
		t.Fatalf("non-member history fetch: want 403, got %d", code)
	}
	var history messageListResponse
	if code := call(t, srv.HandleRoomSubresource, http.MethodGet, messagesPath, alice.Token, nil, &history); code != http.StatusOK {
		t.Fatalf("member history fetch: status %d", code)
	}
	if len(history.Messages) != 0 {
		t.Fatalf("fresh room history: got %d messages", len(history.Messages))
	}
}

func TestExpensesAndBudgetStatus(t *testing.T) {
	srv := newTestServer(t)
	login := signupAndLogin(t, srv, "alice")

	if code := call(t, srv.HandleBudgets, http.MethodPut, "/api/budgets", login.Token,
		budgetRequest{Category: "food", LimitCents: 50000}, nil); code != http.StatusOK {
		t.Fatalf("upsert budget: status %d", code)
	}

	var expense storage.Expense
	spend := expenseRequest{Category: "food", AmountCents: 1299, Note: "lunch"}
	if code := call(t, srv.HandleExpenses, http.MethodPost, "/api/expenses", login.Token, spend, &expense); code != http.StatusCreated {
		t.Fatalf("add expense: status %d", code)
	}
	if expense.ID == 0 || expense.AmountCents != 1299 {
		t.Fatalf("add expense: unexpected payload %+v", expense)
	}
	bad := expenseRequest{Category: "food", AmountCents: -5}
	if code := call(t, srv.HandleExpenses, http.MethodPost, "/api/expenses", login.Token, bad, nil); code != http.StatusBadRequest {
		t.Fatalf("negative amount: want 400, got %d", code)
	}

	var status struct {
		Month  string                    `json:"month"`
		Status []storage.BudgetStatusRow `json:"status"`
	}
	if code := call(t, srv.HandleBudgetStatus, http.MethodGet, "/api/budgets/status", login.Token, nil, &status); code != http.StatusOK {
		t.Fatalf("budget status: status %d", code)
	}
	if len(status.Status) != 1 {
		t.Fatalf("budget status rows: got %+v", status.Status)
	}
	row := status.Status[0]
	if row.Category != "food" || row.LimitCents != 50000 || row.SpentCents != 1299 {
		t.Fatalf("budget status row: got %+v", row)
	}

	// Finance routes require auth like everything else.
	if code := call(t, srv.HandleExpenses, http.MethodGet, "/api/expenses", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated expenses: want 401, got %d", code)
	}
}
