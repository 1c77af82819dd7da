package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/npezzotti/go-supportchat/internal/database"
	"github.com/npezzotti/go-supportchat/internal/stats"
	"github.com/npezzotti/go-supportchat/internal/testutil"
	"github.com/npezzotti/go-supportchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sub(endpoint string) types.PushSubscription {
	return types.PushSubscription{
		Endpoint: endpoint,
		Keys:     types.Keys{P256dh: "p256dh", Auth: "auth"},
	}
}

func TestNotifyUser_PrunesGoneKeepsTransient(t *testing.T) {
	tcases := []struct {
		name   string
		status int
		err    error
		pruned bool
	}{
		{name: "delivered", status: http.StatusCreated},
		{name: "gone", status: http.StatusGone, err: errors.New("gone"), pruned: true},
		{name: "not found", status: http.StatusNotFound, err: errors.New("not found"), pruned: true},
		{name: "server error", status: http.StatusInternalServerError, err: errors.New("unavailable")},
		{name: "transport error", err: errors.New("connection reset")},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := database.NewMemoryRoomStore()
			_, _, err := store.UpsertRoomOnJoin(ctx, "u1", "Lan")
			require.NoError(t, err)
			require.NoError(t, store.AddRoomSubscription(ctx, "u1", sub("https://push.example/u1")))

			room, err := store.GetRoom(ctx, "u1")
			require.NoError(t, err)

			pusher := new(MockPusher)
			pusher.On("Push", mock.Anything, sub("https://push.example/u1"), mock.Anything).Return(tc.status, tc.err)

			d := NewDispatcher(store, testutil.TestLogger(t), WithPusher(pusher))
			d.NotifyUser(ctx, room, types.Message{RoomId: "u1", Text: "chào bạn", IsAdmin: true})

			pusher.AssertNumberOfCalls(t, "Push", 1)

			room, err = store.GetRoom(ctx, "u1")
			require.NoError(t, err)
			if tc.pruned {
				assert.Empty(t, room.PushSubscriptions, "expected gone subscription to be pruned")
			} else {
				assert.Len(t, room.PushSubscriptions, 1, "expected subscription to be kept")
			}
		})
	}
}

func TestNotifyUser_Payload(t *testing.T) {
	ctx := context.Background()
	pusher := new(MockPusher)

	var got Payload
	pusher.On("Push", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			assert.NoError(t, json.Unmarshal(args.Get(2).([]byte), &got))
		}).
		Return(http.StatusCreated, nil)

	d := NewDispatcher(database.NewMemoryRoomStore(), testutil.TestLogger(t), WithPusher(pusher))
	room := types.Room{Id: "u1", PushSubscriptions: []types.PushSubscription{sub("https://push.example/u1")}}
	d.NotifyUser(ctx, room, types.Message{RoomId: "u1", Image: "data:image/png;base64,AAAA", IsAdmin: true})

	assert.Equal(t, Payload{
		Title: adminSenderTitle,
		Body:  types.ImagePlaceholder,
		Icon:  DefaultIcon,
		URL:   "/?roomId=u1",
		Tag:   "room-u1",
	}, got)
}

func TestNotifyUser_NoSubscriptions(t *testing.T) {
	pusher := new(MockPusher)
	d := NewDispatcher(database.NewMemoryRoomStore(), testutil.TestLogger(t), WithPusher(pusher))

	d.NotifyUser(context.Background(), types.Room{Id: "u1"}, types.Message{Text: "hi"})

	pusher.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotifyAdmins(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryRoomStore()
	require.NoError(t, store.SaveAdminSubscription(ctx, sub("https://push.example/a1")))
	require.NoError(t, store.SaveAdminSubscription(ctx, sub("https://push.example/a2")))
	require.NoError(t, store.SaveAdminSubscription(ctx, sub("https://push.example/a3")))

	pusher := new(MockPusher)
	pusher.On("Push", mock.Anything, sub("https://push.example/a1"), mock.Anything).Return(http.StatusCreated, nil)
	pusher.On("Push", mock.Anything, sub("https://push.example/a2"), mock.Anything).Return(http.StatusGone, errors.New("gone"))
	pusher.On("Push", mock.Anything, sub("https://push.example/a3"), mock.Anything).Return(http.StatusTooManyRequests, errors.New("slow down"))

	room := types.Room{Id: "u1", DisplayName: "Lan"}
	msg := types.Message{Id: "m1", RoomId: "u1", DisplayName: "Lan", Text: "xin chào"}

	relay := new(MockTelegramRelay)
	relay.On("RelayMessage", mock.Anything, room, msg).Return(nil)

	metrics := new(stats.MockStatsUpdater)
	metrics.On("PushSent", stats.AudienceAdmin).Once()
	metrics.On("SubscriptionPruned", stats.AudienceAdmin).Once()
	metrics.On("PushFailed", stats.AudienceAdmin, "rejected").Once()
	metrics.On("TelegramRelayed", "ok").Once()

	d := NewDispatcher(store, testutil.TestLogger(t),
		WithPusher(pusher),
		WithTelegram(relay),
		WithStats(metrics),
		WithConcurrency(2),
	)
	d.NotifyAdmins(ctx, room, msg)

	pusher.AssertNumberOfCalls(t, "Push", 3)
	relay.AssertExpectations(t)
	metrics.AssertExpectations(t)

	subs, err := store.ListAdminSubscriptions(ctx)
	require.NoError(t, err)
	endpoints := make([]string, 0, len(subs))
	for _, s := range subs {
		endpoints = append(endpoints, s.Endpoint)
	}
	assert.ElementsMatch(t, []string{"https://push.example/a1", "https://push.example/a3"}, endpoints,
		"expected only the gone admin subscription to be pruned")
}

func TestNotifyAdmins_TelegramFailureSwallowed(t *testing.T) {
	ctx := context.Background()
	relay := new(MockTelegramRelay)
	relay.On("RelayMessage", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bot blocked"))

	d := NewDispatcher(database.NewMemoryRoomStore(), testutil.TestLogger(t), WithTelegram(relay))

	assert.NotPanics(t, func() {
		d.NotifyAdmins(ctx, types.Room{Id: "u1"}, types.Message{Text: "hi"})
	})
	relay.AssertExpectations(t)
}

func TestNotifyNewConversation(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryRoomStore()
	require.NoError(t, store.SaveAdminSubscription(ctx, sub("https://push.example/a1")))

	var got Payload
	pusher := new(MockPusher)
	pusher.On("Push", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			assert.NoError(t, json.Unmarshal(args.Get(2).([]byte), &got))
		}).
		Return(http.StatusCreated, nil)
	relay := new(MockTelegramRelay)

	d := NewDispatcher(store, testutil.TestLogger(t), WithPusher(pusher), WithTelegram(relay))
	d.NotifyNewConversation(ctx, types.Room{Id: "u1", DisplayName: "Lan"})

	assert.Equal(t, newConversationTitle, got.Title)
	assert.Contains(t, got.Body, "Lan")
	assert.Equal(t, "new-u1", got.Tag)
	relay.AssertNotCalled(t, "RelayMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeliveryError(t *testing.T) {
	cause := errors.New("dial tcp: timeout")

	err := &DeliveryError{Endpoint: "https://push.example/1", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.False(t, err.Gone())

	err = &DeliveryError{Endpoint: "https://push.example/1", StatusCode: http.StatusGone}
	assert.True(t, err.Gone())
	assert.Contains(t, err.Error(), "410")
}
