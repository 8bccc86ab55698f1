package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(id, roomID, content string) Message {
	return Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    1,
		UserName:  "alice",
		Content:   content,
		Type:      MessageTypeText,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSnapshotIdentityChangesPerMutation(t *testing.T) {
	state := NewRoomState()
	before := state.Snapshot()

	state.UpsertRoom(Room{ID: "r1", Name: "general"})
	after := state.Snapshot()

	assert.NotSame(t, before, after, "every mutation produces a fresh snapshot")
	assert.Empty(t, before.Rooms, "old snapshot stays untouched")
	assert.Len(t, after.Rooms, 1)
}

func TestApplyNewMessageCreatesListForUncachedRoom(t *testing.T) {
	state := NewRoomState()

	state.ApplyNewMessage(testMessage("m1", "r1", "hello"))

	snap := state.Snapshot()
	require.Len(t, snap.Messages["r1"], 1)
	assert.Equal(t, "hello", snap.Messages["r1"][0].Content)
	assert.True(t, state.HasMessages("r1"))
}

func TestApplyNewMessageDeduplicatesByID(t *testing.T) {
	state := NewRoomState()

	msg := testMessage("m1", "r1", "hello")
	state.ApplyNewMessage(msg)
	state.ApplyNewMessage(msg)

	assert.Len(t, state.Snapshot().Messages["r1"], 1)
}

func TestApplyNewMessageUpdatesRoomLastMessage(t *testing.T) {
	state := NewRoomState()
	state.UpsertRoom(Room{ID: "r1", Name: "general"})

	msg := testMessage("m1", "r1", "latest")
	state.ApplyNewMessage(msg)

	room := state.Snapshot().Rooms["r1"]
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, "m1", room.LastMessage.ID)
}

func TestApplyMessageUpdateUnknownIDIsNoop(t *testing.T) {
	state := NewRoomState()
	state.ApplyNewMessage(testMessage("m1", "r1", "original"))

	state.ApplyMessageUpdate(testMessage("missing", "r1", "edited"))

	msgs := state.Snapshot().Messages["r1"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "original", msgs[0].Content)
}

func TestApplyMessageUpdateReplacesInPlace(t *testing.T) {
	state := NewRoomState()
	state.ApplyNewMessage(testMessage("m1", "r1", "one"))
	state.ApplyNewMessage(testMessage("m2", "r1", "two"))

	edited := testMessage("m1", "r1", "one, edited")
	edited.IsEdited = true
	state.ApplyMessageUpdate(edited)

	msgs := state.Snapshot().Messages["r1"]
	require.Len(t, msgs, 2)
	assert.Equal(t, "one, edited", msgs[0].Content)
	assert.True(t, msgs[0].IsEdited)
	assert.Equal(t, "two", msgs[1].Content)
}

func TestApplyMessageDelete(t *testing.T) {
	state := NewRoomState()
	state.ApplyNewMessage(testMessage("m1", "r1", "one"))
	state.ApplyNewMessage(testMessage("m2", "r1", "two"))

	state.ApplyMessageDelete("r1", "m1")

	msgs := state.Snapshot().Messages["r1"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)

	// deleting an unknown id leaves the list alone
	state.ApplyMessageDelete("r1", "never-existed")
	assert.Len(t, state.Snapshot().Messages["r1"], 1)
}

func TestClearRoomMessagesDropsCache(t *testing.T) {
	state := NewRoomState()
	state.SetRoomMessages("r1", []Message{testMessage("m1", "r1", "one")})
	require.True(t, state.HasMessages("r1"))

	state.ClearRoomMessages("r1")

	assert.False(t, state.HasMessages("r1"), "next activation refetches history")
}

func TestSetTypingUsersWholesaleReplace(t *testing.T) {
	state := NewRoomState()

	state.SetTypingUsers("r1", []TypingUser{{UserID: 1, RoomID: "r1", UserName: "alice"}})
	require.Len(t, state.Snapshot().Typing["r1"], 1)

	state.SetTypingUsers("r1", []TypingUser{
		{UserID: 2, RoomID: "r1", UserName: "bob"},
		{UserID: 3, RoomID: "r1", UserName: "carol"},
	})
	require.Len(t, state.Snapshot().Typing["r1"], 2)

	// empty list removes the entry entirely
	state.SetTypingUsers("r1", nil)
	_, ok := state.Snapshot().Typing["r1"]
	assert.False(t, ok)
}

func TestJoinedRoomSet(t *testing.T) {
	state := NewRoomState()

	state.SetJoinedRooms([]string{"r1", "r2"})
	assert.True(t, state.JoinedRoom("r1"))
	assert.True(t, state.JoinedRoom("r2"))
	assert.False(t, state.JoinedRoom("r3"))

	state.AddJoinedRoom("r3")
	assert.True(t, state.JoinedRoom("r3"))

	state.RemoveJoinedRoom("r1")
	assert.False(t, state.JoinedRoom("r1"))
}

func TestSetUserStatusTracksOnlineSet(t *testing.T) {
	state := NewRoomState()

	before := state.Snapshot()
	state.SetUserStatus(UserStatus{UserID: 7, Username: "bob", IsOnline: true})

	snap := state.Snapshot()
	assert.NotSame(t, before, snap)
	assert.Equal(t, "bob", snap.Online[7].Username)
	assert.Empty(t, before.Online, "old snapshot keeps the old online set")

	state.SetUserStatus(UserStatus{UserID: 7, Username: "bob", IsOnline: false})
	assert.NotContains(t, state.Snapshot().Online, int64(7), "offline drops the entry")
}

func TestOldSnapshotImmuneToLaterWrites(t *testing.T) {
	state := NewRoomState()
	state.ApplyNewMessage(testMessage("m1", "r1", "one"))

	before := state.Snapshot()
	state.ApplyNewMessage(testMessage("m2", "r1", "two"))

	assert.Len(t, before.Messages["r1"], 1, "reader holding the old snapshot sees the old list")
	assert.Len(t, state.Snapshot().Messages["r1"], 2)
}
