package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

var testDBCounter atomic.Int64

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := fmt.Sprintf("storetest%d", testDBCounter.Add(1))
	store, err := NewStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func mustCreateUser(t *testing.T, store *Store, username string) int64 {
	t.Helper()
	id, err := store.CreateUser(context.Background(), username, []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser(%q): %v", username, err)
	}
	return id
}

func TestCreateUserDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreateUser(t, store, "alice")
	if _, err := store.CreateUser(ctx, "alice", []byte("other")); err != ErrUserExists {
		t.Fatalf("duplicate CreateUser err = %v, want ErrUserExists", err)
	}
}

func TestGetUserByUsernameMissing(t *testing.T) {
	store := newTestStore(t)

	user, err := store.GetUserByUsername(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil for missing user, got %+v", user)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := mustCreateUser(t, store, "alice")

	expires := time.Now().Add(time.Hour)
	if err := store.CreateSession(ctx, userID, "jti-1", expires); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess, err := store.GetSession(ctx, "jti-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess == nil || sess.UserID != userID {
		t.Fatalf("GetSession returned %+v, want user %d", sess, userID)
	}

	if err := store.DeleteSession(ctx, "jti-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	sess, err = store.GetSession(ctx, "jti-1")
	if err != nil {
		t.Fatalf("GetSession after delete: %v", err)
	}
	if sess != nil {
		t.Fatalf("session should be gone, got %+v", sess)
	}
}

func TestRoomMembership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, store, "alice")
	bob := mustCreateUser(t, store, "bob")

	room, err := store.CreateRoom(ctx, "groceries", "weekly shop", false, alice)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	// creating a room does not grant membership
	member, err := store.IsMember(ctx, room.ID, alice)
	if err != nil {
		t.Fatalf("IsMember: %v", err)
	}
	if member {
		t.Fatal("creator should not be a member until joined")
	}

	if err := store.AddMember(ctx, room.ID, alice); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	// joining twice is idempotent
	if err := store.AddMember(ctx, room.ID, alice); err != nil {
		t.Fatalf("AddMember twice: %v", err)
	}
	if err := store.AddMember(ctx, room.ID, bob); err != nil {
		t.Fatalf("AddMember bob: %v", err)
	}

	got, err := store.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.MemberCount != 2 {
		t.Fatalf("MemberCount = %d, want 2", got.MemberCount)
	}

	ids, err := store.JoinedRoomIDs(ctx, bob)
	if err != nil {
		t.Fatalf("JoinedRoomIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != room.ID {
		t.Fatalf("JoinedRoomIDs = %v, want [%s]", ids, room.ID)
	}

	if err := store.RemoveMember(ctx, room.ID, bob); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	member, err = store.IsMember(ctx, room.ID, bob)
	if err != nil {
		t.Fatalf("IsMember after remove: %v", err)
	}
	if member {
		t.Fatal("bob should no longer be a member")
	}
}

func TestSearchRooms(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, store, "alice")

	if _, err := store.CreateRoom(ctx, "household budget", "", false, alice); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := store.CreateRoom(ctx, "trips", "vacation budget planning", false, alice); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := store.CreateRoom(ctx, "misc", "", false, alice); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	rooms, err := store.SearchRooms(ctx, "budget")
	if err != nil {
		t.Fatalf("SearchRooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("SearchRooms returned %d rooms, want 2", len(rooms))
	}
}

func TestMessagesCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, store, "alice")

	room, err := store.CreateRoom(ctx, "general", "", false, alice)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	msg, err := store.InsertMessage(ctx, room.ID, alice, "hello", "text", "")
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if msg.ID == "" || msg.UserName != "alice" || msg.IsEdited {
		t.Fatalf("unexpected message %+v", msg)
	}

	updated, err := store.UpdateMessage(ctx, msg.ID, "hello again")
	if err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	if updated.Content != "hello again" || !updated.IsEdited {
		t.Fatalf("unexpected updated message %+v", updated)
	}

	if _, err := store.UpdateMessage(ctx, "no-such-id", "x"); err != ErrNotFound {
		t.Fatalf("UpdateMessage missing err = %v, want ErrNotFound", err)
	}

	got, err := store.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.ID != msg.ID {
		t.Fatalf("LastMessage = %+v, want id %s", got.LastMessage, msg.ID)
	}

	if err := store.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	gone, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage after delete: %v", err)
	}
	if gone != nil {
		t.Fatalf("message should be gone, got %+v", gone)
	}
}

func TestListRoomMessagesAscending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, store, "alice")

	room, err := store.CreateRoom(ctx, "general", "", false, alice)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.InsertMessage(ctx, room.ID, alice, fmt.Sprintf("msg %d", i), "text", ""); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	msgs, err := store.ListRoomMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListRoomMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, msg := range msgs {
		if want := fmt.Sprintf("msg %d", i); msg.Content != want {
			t.Fatalf("message[%d] = %q, want %q", i, msg.Content, want)
		}
	}
}

func TestSearchMessagesScopedToJoinedRooms(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, store, "alice")
	bob := mustCreateUser(t, store, "bob")

	joined, err := store.CreateRoom(ctx, "joined", "", false, alice)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	other, err := store.CreateRoom(ctx, "other", "", false, alice)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := store.AddMember(ctx, joined.ID, bob); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if _, err := store.InsertMessage(ctx, joined.ID, alice, "rent due friday", "text", ""); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if _, err := store.InsertMessage(ctx, other.ID, alice, "rent went up", "text", ""); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	// unscoped search sees only bob's joined rooms
	msgs, err := store.SearchMessages(ctx, "rent", "", bob)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].RoomID != joined.ID {
		t.Fatalf("SearchMessages = %+v, want one hit in %s", msgs, joined.ID)
	}

	// room-scoped search ignores membership scoping
	msgs, err = store.SearchMessages(ctx, "rent", other.ID, bob)
	if err != nil {
		t.Fatalf("SearchMessages room-scoped: %v", err)
	}
	if len(msgs) != 1 || msgs[0].RoomID != other.ID {
		t.Fatalf("room-scoped SearchMessages = %+v", msgs)
	}
}

func TestExpensesByMonth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, store, "alice")

	jan := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	if _, err := store.CreateExpense(ctx, alice, "food", 1250, "lunch", jan); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	expense, err := store.CreateExpense(ctx, alice, "food", 3000, "", feb)
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	list, err := store.ListExpenses(ctx, alice, "2026-02")
	if err != nil {
		t.Fatalf("ListExpenses: %v", err)
	}
	if len(list) != 1 || list[0].AmountCents != 3000 {
		t.Fatalf("ListExpenses = %+v, want the february expense", list)
	}

	if err := store.DeleteExpense(ctx, alice, expense.ID); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}
	list, err = store.ListExpenses(ctx, alice, "2026-02")
	if err != nil {
		t.Fatalf("ListExpenses after delete: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no february expenses, got %+v", list)
	}
}

func TestBudgetStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, store, "alice")

	if _, err := store.UpsertBudget(ctx, alice, "food", 50000); err != nil {
		t.Fatalf("UpsertBudget: %v", err)
	}
	// upsert replaces the limit
	if _, err := store.UpsertBudget(ctx, alice, "food", 40000); err != nil {
		t.Fatalf("UpsertBudget replace: %v", err)
	}

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if _, err := store.CreateExpense(ctx, alice, "food", 1500, "", day); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	if _, err := store.CreateExpense(ctx, alice, "food", 2500, "", day); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	status, err := store.BudgetStatus(ctx, alice, "2026-03")
	if err != nil {
		t.Fatalf("BudgetStatus: %v", err)
	}
	if len(status) != 1 {
		t.Fatalf("BudgetStatus rows = %d, want 1", len(status))
	}
	if status[0].LimitCents != 40000 || status[0].SpentCents != 4000 {
		t.Fatalf("BudgetStatus = %+v", status[0])
	}
}

func TestGoals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, store, "alice")

	deadline := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	goal, err := store.CreateGoal(ctx, alice, "emergency fund", 100000, &deadline)
	if err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}

	updated, err := store.UpdateGoalSaved(ctx, alice, goal.ID, 25000)
	if err != nil {
		t.Fatalf("UpdateGoalSaved: %v", err)
	}
	if updated.SavedCents != 25000 {
		t.Fatalf("SavedCents = %d, want 25000", updated.SavedCents)
	}
	if updated.Deadline == nil {
		t.Fatal("deadline was dropped")
	}

	if _, err := store.UpdateGoalSaved(ctx, alice, 9999, 1); err != ErrNotFound {
		t.Fatalf("UpdateGoalSaved missing err = %v, want ErrNotFound", err)
	}

	if err := store.DeleteGoal(ctx, alice, goal.ID); err != nil {
		t.Fatalf("DeleteGoal: %v", err)
	}
	goals, err := store.ListGoals(ctx, alice)
	if err != nil {
		t.Fatalf("ListGoals: %v", err)
	}
	if len(goals) != 0 {
		t.Fatalf("goals remain after delete: %+v", goals)
	}
}
