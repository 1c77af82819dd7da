package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/npezzotti/go-supportchat/internal/database"
	"github.com/npezzotti/go-supportchat/internal/media"
	"github.com/npezzotti/go-supportchat/internal/testutil"
	"github.com/npezzotti/go-supportchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	target Target
	event  types.Event
}

// recordingHub captures broadcasts in the order they were issued.
type recordingHub struct {
	mu     sync.Mutex
	events []sentEvent
}

func (h *recordingHub) Broadcast(target Target, ev types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{target: target, event: ev})
}

func (h *recordingHub) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.events))
	for _, e := range h.events {
		names = append(names, e.event.Name)
	}
	return names
}

func (h *recordingHub) find(name string) (sentEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range h.events {
		if e.event.Name == name {
			return e, true
		}
	}
	return sentEvent{}, false
}

func (h *recordingHub) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

type fixture struct {
	store    *database.MemoryRoomStore
	hub      *recordingHub
	notifier *MockNotifier
	router   *Router
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	f := &fixture{
		store:    database.NewMemoryRoomStore(),
		hub:      &recordingHub{},
		notifier: new(MockNotifier),
	}
	f.router = New(f.store, f.hub, f.notifier, testutil.TestLogger(t), opts...)
	return f
}

func (f *fixture) messages(t *testing.T, roomId string) []types.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), roomId)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) room(t *testing.T, roomId string) types.Room {
	t.Helper()
	room, err := f.store.GetRoom(context.Background(), roomId)
	require.NoError(t, err)
	return room
}

func TestScenario_UserAndAdminExchange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.On("NotifyNewConversation", mock.Anything, mock.Anything).Return()
	f.notifier.On("NotifyAdmins", mock.Anything, mock.Anything, mock.Anything).Return()
	f.notifier.On("NotifyUser", mock.Anything, mock.MatchedBy(func(room types.Room) bool {
		return room.Id == "u1" && len(room.PushSubscriptions) == 1
	}), mock.MatchedBy(func(msg types.Message) bool {
		return msg.Text == "chào bạn"
	})).Return()

	_, err := f.router.Join(ctx, "u1", "Lan")
	require.NoError(t, err)
	require.NoError(t, f.router.SaveRoomSubscription(ctx, "u1", types.PushSubscription{
		Endpoint: "https://push.example/u1",
		Keys:     types.Keys{P256dh: "p", Auth: "a"},
	}))

	_, err = f.router.Submit(ctx, Candidate{RoomId: "u1", SenderId: "u1", DisplayName: "Lan", Text: "xin chào"})
	require.NoError(t, err)

	room := f.room(t, "u1")
	assert.Equal(t, "xin chào", room.LastMessage)
	assert.True(t, room.HasUnreadAdmin)
	assert.Len(t, f.messages(t, "u1"), 1)

	_, err = f.router.ViewRoom(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, f.room(t, "u1").HasUnreadAdmin, "expected view to clear unread flag")

	_, err = f.router.Submit(ctx, Candidate{RoomId: "u1", SenderId: "admin@example.com", DisplayName: "Admin", Text: "chào bạn", IsAdmin: true})
	require.NoError(t, err)

	f.router.Wait()

	room = f.room(t, "u1")
	assert.Len(t, f.messages(t, "u1"), 2)
	assert.False(t, room.HasUnreadAdmin, "expected admin message to leave unread flag unchanged")
	assert.Equal(t, "chào bạn", room.LastMessage)
	f.notifier.AssertNumberOfCalls(t, "NotifyNewConversation", 1)
	f.notifier.AssertNumberOfCalls(t, "NotifyAdmins", 1)
	f.notifier.AssertNumberOfCalls(t, "NotifyUser", 1)
}

func TestSubmit_OpenRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.On("NotifyAdmins", mock.Anything, mock.Anything, mock.Anything).Return()
	_, _, err := f.store.UpsertRoomOnJoin(ctx, "u1", "Lan")
	require.NoError(t, err)

	msg, err := f.router.Submit(ctx, Candidate{RoomId: "u1", SenderId: "u1", DisplayName: "Lan", Text: "hello"})
	require.NoError(t, err)
	f.router.Wait()

	assert.NotEmpty(t, msg.Id)
	assert.Equal(t, []types.Message{msg}, f.messages(t, "u1"))

	room := f.room(t, "u1")
	assert.Equal(t, "hello", room.LastMessage)
	assert.True(t, room.Timestamp.Equal(msg.Timestamp), "expected summary timestamp to follow the message")

	assert.Equal(t, []string{types.EventNewMessage, types.EventChatList}, f.hub.names())
	ev, _ := f.hub.find(types.EventNewMessage)
	assert.Equal(t, Target{RoomId: "u1", Admins: true}, ev.target)

	list, _ := f.hub.find(types.EventChatList)
	rooms := list.event.Data.([]types.Room)
	require.Len(t, rooms, 2)
	assert.Equal(t, types.AdminRoomId, rooms[0].Id, "expected admin room to be listed first")
	assert.True(t, rooms[0].IsSpecial)
	assert.Equal(t, "u1", rooms[1].Id)

	f.notifier.AssertNumberOfCalls(t, "NotifyAdmins", 1)
	f.notifier.AssertNotCalled(t, "NotifyUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_LockedRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.On("NotifyUser", mock.Anything, mock.Anything, mock.Anything).Return()
	_, _, err := f.store.UpsertRoomOnJoin(ctx, "u1", "Lan")
	require.NoError(t, err)
	require.NoError(t, f.router.ToggleLock(ctx, "u1", true))
	f.hub.reset()

	_, err = f.router.Submit(ctx, Candidate{RoomId: "u1", SenderId: "u1", Text: "are you there?"})
	assert.ErrorIs(t, err, ErrRoomLocked)
	assert.Empty(t, f.messages(t, "u1"), "expected nothing to be persisted")
	assert.Empty(t, f.hub.names(), "expected nothing to be broadcast")

	_, err = f.router.Submit(ctx, Candidate{RoomId: "u1", SenderId: "admin", Text: "closing note", IsAdmin: true})
	require.NoError(t, err, "expected admins to post in locked rooms")
	f.router.Wait()
	assert.Len(t, f.messages(t, "u1"), 1)
	assert.True(t, f.room(t, "u1").IsClosed, "expected room to stay locked")
}

func TestSubmit_Validation(t *testing.T) {
	tcases := []struct {
		name string
		c    Candidate
		err  error
	}{
		{name: "empty", c: Candidate{RoomId: "u1"}, err: ErrEmptyMessage},
		{name: "whitespace", c: Candidate{RoomId: "u1", Text: " \n\t"}, err: ErrEmptyMessage},
		{name: "missing room", c: Candidate{Text: "hi"}, err: ErrMissingRoom},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			_, _, err := f.store.UpsertRoomOnJoin(ctx, "u1", "Lan")
			require.NoError(t, err)

			_, err = f.router.Submit(ctx, tc.c)
			assert.ErrorIs(t, err, tc.err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Empty(t, f.messages(t, "u1"))
			assert.Empty(t, f.hub.names())
		})
	}
}

func TestSubmit_RoomNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Submit(context.Background(), Candidate{RoomId: "ghost", Text: "hi"})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestSubmit_AdminRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.router.Submit(ctx, Candidate{RoomId: types.AdminRoomId, SenderId: "u1", Text: "let me in"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, f.messages(t, types.AdminRoomId))

	msg, err := f.router.Submit(ctx, Candidate{RoomId: types.AdminRoomId, SenderId: "a1", Text: "shift handover", IsAdmin: true})
	require.NoError(t, err)
	f.router.Wait()

	assert.Equal(t, []types.Message{msg}, f.messages(t, types.AdminRoomId))
	assert.Equal(t, []string{types.EventNewMessage}, f.hub.names(), "expected no chat list refresh")
	ev, _ := f.hub.find(types.EventNewMessage)
	assert.Equal(t, Target{Admins: true}, ev.target)

	rooms, err := f.store.ListRoomsByRecency(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms, "expected admin room never to be stored as a room")
	f.notifier.AssertNotCalled(t, "NotifyAdmins", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "NotifyUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_ImageOffload(t *testing.T) {
	ctx := context.Background()
	images := new(media.MockImageStore)
	images.On("Offload", mock.Anything, "u1", "data:image/png;base64,aGk=").Return("https://cdn.example/u1/a.png", nil)

	f := newFixture(t, WithImageStore(images))
	f.notifier.On("NotifyAdmins", mock.Anything, mock.Anything, mock.Anything).Return()
	_, _, err := f.store.UpsertRoomOnJoin(ctx, "u1", "Lan")
	require.NoError(t, err)

	msg, err := f.router.Submit(ctx, Candidate{RoomId: "u1", SenderId: "u1", Image: "data:image/png;base64,aGk="})
	require.NoError(t, err)
	f.router.Wait()

	assert.Equal(t, "https://cdn.example/u1/a.png", msg.Image)
	room := f.room(t, "u1")
	assert.Equal(t, types.ImagePlaceholder, room.LastMessage)
	assert.True(t, room.HasImage)
}

func TestSubmit_PersistenceError(t *testing.T) {
	ctx := context.Background()
	store := new(database.MockRoomStore)
	store.On("GetRoom", ctx, "u1").Return(types.Room{}, errors.New("connection refused"))

	r := New(store, &recordingHub{}, new(MockNotifier), testutil.TestLogger(t))

	_, err := r.Submit(ctx, Candidate{RoomId: "u1", Text: "hi"})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "get room", perr.Op)
}

func TestJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.On("NotifyNewConversation", mock.Anything, mock.MatchedBy(func(room types.Room) bool {
		return room.Id == "u1"
	})).Return()

	history, err := f.router.Join(ctx, "u1", "Lan")
	require.NoError(t, err)
	assert.Equal(t, "u1", history.RoomId)
	assert.Empty(t, history.Messages)
	assert.False(t, history.IsLocked)
	assert.Equal(t, []string{types.EventChatList}, f.hub.names())

	f.hub.reset()
	_, err = f.router.Join(ctx, "u1", "Lan")
	require.NoError(t, err)
	f.router.Wait()

	assert.Empty(t, f.hub.names(), "expected rejoin not to refresh the chat list")
	f.notifier.AssertNumberOfCalls(t, "NotifyNewConversation", 1)

	_, err = f.router.Join(ctx, types.AdminRoomId, "sneaky")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestViewRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.router.ViewRoom(ctx, "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = f.store.AppendMessage(ctx, types.Message{RoomId: types.AdminRoomId, Text: "note", IsAdmin: true})
	require.NoError(t, err)
	history, err := f.router.ViewRoom(ctx, types.AdminRoomId)
	require.NoError(t, err)
	assert.Len(t, history.Messages, 1)
}

func TestToggleLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, _, err := f.store.UpsertRoomOnJoin(ctx, "u1", "Lan")
	require.NoError(t, err)

	require.NoError(t, f.router.ToggleLock(ctx, "u1", true))
	assert.True(t, f.room(t, "u1").IsClosed)

	ev, ok := f.hub.find(types.EventChatLocked)
	require.True(t, ok)
	assert.Equal(t, Target{RoomId: "u1", Admins: true}, ev.target)
	assert.Equal(t, types.LockState{RoomId: "u1", IsLocked: true}, ev.event.Data)

	require.NoError(t, f.router.ToggleLock(ctx, "u1", false))
	assert.False(t, f.room(t, "u1").IsClosed)

	f.hub.reset()
	assert.NoError(t, f.router.ToggleLock(ctx, types.AdminRoomId, true))
	assert.Empty(t, f.hub.names(), "expected admin room lock to be a no-op")

	assert.ErrorIs(t, f.router.ToggleLock(ctx, "missing", true), ErrRoomNotFound)
}

func TestDeleteMessage_RecomputesSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.On("NotifyAdmins", mock.Anything, mock.Anything, mock.Anything).Return()
	_, _, err := f.store.UpsertRoomOnJoin(ctx, "u1", "Lan")
	require.NoError(t, err)

	first, err := f.router.Submit(ctx, Candidate{RoomId: "u1", SenderId: "u1", Text: "first"})
	require.NoError(t, err)
	second, err := f.router.Submit(ctx, Candidate{RoomId: "u1", SenderId: "u1", Image: "data:image/png;base64,aGk="})
	require.NoError(t, err)
	f.router.Wait()
	f.hub.reset()

	require.NoError(t, f.router.DeleteMessage(ctx, second.Id, "u1"))
	room := f.room(t, "u1")
	assert.Equal(t, "first", room.LastMessage, "expected summary from remaining message")
	assert.False(t, room.HasImage)

	ev, ok := f.hub.find(types.EventMessageDeleted)
	require.True(t, ok)
	assert.Equal(t, types.MessageDeleted{MessageId: second.Id, RoomId: "u1"}, ev.event.Data)
	assert.Equal(t, []string{types.EventMessageDeleted, types.EventChatList}, f.hub.names())

	require.NoError(t, f.router.DeleteMessage(ctx, first.Id, "u1"))
	assert.Equal(t, types.EmptyPlaceholder, f.room(t, "u1").LastMessage, "expected placeholder once empty")

	assert.ErrorIs(t, f.router.DeleteMessage(ctx, first.Id, "u1"), ErrMessageNotFound)
}

func TestDeleteMessage_AdminRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	msg, err := f.router.Submit(ctx, Candidate{RoomId: types.AdminRoomId, Text: "oops", IsAdmin: true})
	require.NoError(t, err)
	f.hub.reset()

	require.NoError(t, f.router.DeleteMessage(ctx, msg.Id, types.AdminRoomId))
	assert.Equal(t, []string{types.EventMessageDeleted}, f.hub.names())
	assert.Empty(t, f.messages(t, types.AdminRoomId))
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.On("NotifyAdmins", mock.Anything, mock.Anything, mock.Anything).Return()
	_, _, err := f.store.UpsertRoomOnJoin(ctx, "u1", "Lan")
	require.NoError(t, err)
	_, err = f.router.Submit(ctx, Candidate{RoomId: "u1", SenderId: "u1", Text: "bye"})
	require.NoError(t, err)
	f.router.Wait()
	f.hub.reset()

	require.NoError(t, f.router.DeleteConversation(ctx, "u1"))

	_, err = f.store.GetRoom(ctx, "u1")
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Empty(t, f.messages(t, "u1"))

	assert.Equal(t, []string{types.EventConversationDeleted, types.EventChatEndedByAdmin, types.EventChatList}, f.hub.names())
	ended, _ := f.hub.find(types.EventChatEndedByAdmin)
	assert.Equal(t, Target{RoomId: "u1"}, ended.target)
	deleted, _ := f.hub.find(types.EventConversationDeleted)
	assert.Equal(t, Target{Admins: true}, deleted.target)

	assert.ErrorIs(t, f.router.DeleteConversation(ctx, "u1"), ErrRoomNotFound)
	assert.ErrorIs(t, f.router.DeleteConversation(ctx, types.AdminRoomId), ErrForbidden)
}

func TestSaveSubscriptions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	valid := types.PushSubscription{Endpoint: "https://push.example/1", Keys: types.Keys{P256dh: "p", Auth: "a"}}

	assert.ErrorIs(t, f.router.SaveRoomSubscription(ctx, "u1", valid), ErrRoomNotFound)
	assert.ErrorIs(t, f.router.SaveRoomSubscription(ctx, "u1", types.PushSubscription{}), ErrInvalidSubscription)
	assert.ErrorIs(t, f.router.SaveRoomSubscription(ctx, types.AdminRoomId, valid), ErrForbidden)

	_, _, err := f.store.UpsertRoomOnJoin(ctx, "u1", "Lan")
	require.NoError(t, err)
	require.NoError(t, f.router.SaveRoomSubscription(ctx, "u1", valid))
	assert.Len(t, f.room(t, "u1").PushSubscriptions, 1)

	require.NoError(t, f.router.SaveAdminSubscription(ctx, valid))
	subs, err := f.store.ListAdminSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.PushSubscription{valid}, subs)
	assert.ErrorIs(t, f.router.SaveAdminSubscription(ctx, types.PushSubscription{Endpoint: "x"}), ErrInvalidSubscription)
}

func TestGoDetached_RecoversPanic(t *testing.T) {
	f := newFixture(t)

	ran := false
	f.router.goDetached("boom", func(ctx context.Context) {
		ran = true
		panic("notification bug")
	})

	assert.NotPanics(t, f.router.Wait)
	assert.True(t, ran)
}
