// Package router is the message pipeline shared by every inbound surface.
// It validates against room state, persists, fans out to live subscribers,
// keeps room summaries current and schedules notifications.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-supportchat/internal/database"
	"github.com/npezzotti/go-supportchat/internal/media"
	"github.com/npezzotti/go-supportchat/internal/stats"
	"github.com/npezzotti/go-supportchat/internal/types"
	"go.uber.org/zap"
)

const defaultDetachedTimeout = 30 * time.Second

// Target selects the recipients of a broadcast. A connection that matches
// both the room and the admin set receives the event once.
type Target struct {
	RoomId string
	Admins bool
}

type Broadcaster interface {
	Broadcast(target Target, ev types.Event)
}

type Notifier interface {
	NotifyUser(ctx context.Context, room types.Room, msg types.Message)
	NotifyAdmins(ctx context.Context, room types.Room, msg types.Message)
	NotifyNewConversation(ctx context.Context, room types.Room)
}

// Candidate is an unpersisted message as built by an inbound adapter.
type Candidate struct {
	RoomId      string
	SenderId    string
	DisplayName string
	Text        string
	Image       string
	IsAdmin     bool
}

type Router struct {
	store           database.RoomStore
	hub             Broadcaster
	notifier        Notifier
	images          media.ImageStore
	stats           stats.StatsProvider
	log             *zap.Logger
	detachedTimeout time.Duration
	wg              sync.WaitGroup
}

type Option func(*Router)

// WithImageStore offloads inline images before they are persisted.
func WithImageStore(images media.ImageStore) Option {
	return func(r *Router) { r.images = images }
}

func WithStats(sp stats.StatsProvider) Option {
	return func(r *Router) { r.stats = sp }
}

func WithDetachedTimeout(d time.Duration) Option {
	return func(r *Router) { r.detachedTimeout = d }
}

func New(store database.RoomStore, hub Broadcaster, notifier Notifier, logger *zap.Logger, opts ...Option) *Router {
	r := &Router{
		store:           store,
		hub:             hub,
		notifier:        notifier,
		stats:           stats.Discard,
		log:             logger,
		detachedTimeout: defaultDetachedTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Submit runs a candidate through the pipeline and returns the persisted
// message. Notification failures never fail a submit.
func (r *Router) Submit(ctx context.Context, c Candidate) (types.Message, error) {
	if c.RoomId == "" {
		return types.Message{}, ErrMissingRoom
	}

	msg := types.Message{
		RoomId:      c.RoomId,
		SenderId:    c.SenderId,
		DisplayName: c.DisplayName,
		IsAdmin:     c.IsAdmin,
		Text:        c.Text,
		Image:       c.Image,
	}
	if msg.Empty() {
		return types.Message{}, ErrEmptyMessage
	}

	if c.RoomId == types.AdminRoomId {
		return r.submitToAdminRoom(ctx, msg)
	}

	room, err := r.store.GetRoom(ctx, c.RoomId)
	if errors.Is(err, database.ErrNotFound) {
		return types.Message{}, ErrRoomNotFound
	}
	if err != nil {
		return types.Message{}, persistence("get room", err)
	}

	if room.IsClosed && !c.IsAdmin {
		return types.Message{}, ErrRoomLocked
	}

	saved, err := r.persist(ctx, msg)
	if err != nil {
		return types.Message{}, err
	}

	summary := saved.Summary()
	hasImage := saved.Image != ""
	update := database.RoomSummaryUpdate{
		LastMessage: &summary,
		Timestamp:   &saved.Timestamp,
		HasImage:    &hasImage,
	}
	if !saved.IsAdmin {
		unread := true
		update.HasUnreadAdmin = &unread
	}
	if err := r.store.UpdateRoomSummary(ctx, room.Id, update); err != nil {
		r.log.Error("failed to update room summary",
			zap.String("room_id", room.Id),
			zap.String("message_id", saved.Id),
			zap.Error(err),
		)
	}

	r.hub.Broadcast(Target{RoomId: room.Id, Admins: true}, types.Event{Name: types.EventNewMessage, Data: saved})
	r.broadcastChatList(ctx)

	if saved.IsAdmin {
		r.goDetached("notify user", func(ctx context.Context) {
			r.notifier.NotifyUser(ctx, room, saved)
		})
	} else {
		r.goDetached("notify admins", func(ctx context.Context) {
			r.notifier.NotifyAdmins(ctx, room, saved)
		})
	}

	return saved, nil
}

func (r *Router) submitToAdminRoom(ctx context.Context, msg types.Message) (types.Message, error) {
	if !msg.IsAdmin {
		return types.Message{}, ErrForbidden
	}

	saved, err := r.persist(ctx, msg)
	if err != nil {
		return types.Message{}, err
	}

	r.hub.Broadcast(Target{Admins: true}, types.Event{Name: types.EventNewMessage, Data: saved})

	return saved, nil
}

func (r *Router) persist(ctx context.Context, msg types.Message) (types.Message, error) {
	if msg.Image != "" && r.images != nil {
		image, err := r.images.Offload(ctx, msg.RoomId, msg.Image)
		if err != nil {
			return types.Message{}, persistence("offload image", err)
		}
		msg.Image = image
	}

	saved, err := r.store.AppendMessage(ctx, msg)
	if err != nil {
		return types.Message{}, persistence("append message", err)
	}
	r.stats.MessageStored(senderKind(saved))

	return saved, nil
}

func senderKind(msg types.Message) string {
	switch {
	case msg.SenderId == types.TelegramSenderId:
		return stats.SenderTelegram
	case msg.IsAdmin:
		return stats.SenderAdmin
	default:
		return stats.SenderUser
	}
}

// Join opens or refreshes the user's room and returns its history. The
// first join of a room alerts admins.
func (r *Router) Join(ctx context.Context, userId, displayName string) (types.RoomHistory, error) {
	if userId == "" {
		return types.RoomHistory{}, ErrMissingRoom
	}
	if userId == types.AdminRoomId {
		return types.RoomHistory{}, ErrForbidden
	}

	room, created, err := r.store.UpsertRoomOnJoin(ctx, userId, displayName)
	if err != nil {
		return types.RoomHistory{}, persistence("upsert room", err)
	}

	history, err := r.history(ctx, room.Id, room.IsClosed)
	if err != nil {
		return types.RoomHistory{}, err
	}

	if created {
		r.log.Info("new conversation", zap.String("room_id", room.Id), zap.String("display_name", room.DisplayName))
		r.goDetached("notify new conversation", func(ctx context.Context) {
			r.notifier.NotifyNewConversation(ctx, room)
		})
		r.broadcastChatList(ctx)
	}

	return history, nil
}

// AdminJoin returns the room list an admin sees on connect.
func (r *Router) AdminJoin(ctx context.Context) ([]types.Room, error) {
	return r.ChatList(ctx)
}

// ViewRoom marks the room read by admins and returns its history.
func (r *Router) ViewRoom(ctx context.Context, roomId string) (types.RoomHistory, error) {
	if roomId == "" {
		return types.RoomHistory{}, ErrMissingRoom
	}
	if roomId == types.AdminRoomId {
		return r.history(ctx, roomId, false)
	}

	room, err := r.store.GetRoom(ctx, roomId)
	if errors.Is(err, database.ErrNotFound) {
		return types.RoomHistory{}, ErrRoomNotFound
	}
	if err != nil {
		return types.RoomHistory{}, persistence("get room", err)
	}

	if room.HasUnreadAdmin {
		read := false
		if err := r.store.UpdateRoomSummary(ctx, roomId, database.RoomSummaryUpdate{HasUnreadAdmin: &read}); err != nil {
			return types.RoomHistory{}, persistence("clear unread", err)
		}
	}

	history, err := r.history(ctx, roomId, room.IsClosed)
	if err != nil {
		return types.RoomHistory{}, err
	}
	r.broadcastChatList(ctx)

	return history, nil
}

// ToggleLock sets the room's locked state. The admin room cannot be locked.
func (r *Router) ToggleLock(ctx context.Context, roomId string, locked bool) error {
	if roomId == "" {
		return ErrMissingRoom
	}
	if roomId == types.AdminRoomId {
		return nil
	}

	err := r.store.SetLocked(ctx, roomId, locked)
	if errors.Is(err, database.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return persistence("set locked", err)
	}

	r.hub.Broadcast(Target{RoomId: roomId, Admins: true}, types.Event{
		Name: types.EventChatLocked,
		Data: types.LockState{RoomId: roomId, IsLocked: locked},
	})
	r.broadcastChatList(ctx)

	return nil
}

// DeleteMessage removes one message and recomputes the room summary from
// whatever remains.
func (r *Router) DeleteMessage(ctx context.Context, messageId, roomId string) error {
	if messageId == "" {
		return &ValidationError{Reason: "message id is required"}
	}

	deleted, err := r.store.DeleteMessage(ctx, messageId)
	if errors.Is(err, database.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return persistence("delete message", err)
	}
	if roomId != "" && roomId != deleted.RoomId {
		r.log.Warn("delete message room mismatch",
			zap.String("message_id", messageId),
			zap.String("requested_room_id", roomId),
			zap.String("room_id", deleted.RoomId),
		)
	}
	roomId = deleted.RoomId

	r.hub.Broadcast(Target{RoomId: roomId, Admins: true}, types.Event{
		Name: types.EventMessageDeleted,
		Data: types.MessageDeleted{MessageId: messageId, RoomId: roomId},
	})

	if roomId == types.AdminRoomId {
		return nil
	}

	if err := r.recomputeSummary(ctx, roomId); err != nil {
		r.log.Error("failed to recompute room summary", zap.String("room_id", roomId), zap.Error(err))
	}
	r.broadcastChatList(ctx)

	return nil
}

func (r *Router) recomputeSummary(ctx context.Context, roomId string) error {
	latest, ok, err := r.store.FindLatestMessage(ctx, roomId)
	if err != nil {
		return fmt.Errorf("find latest message: %w", err)
	}

	summary := types.EmptyPlaceholder
	hasImage := false
	update := database.RoomSummaryUpdate{LastMessage: &summary, HasImage: &hasImage}
	if ok {
		summary = latest.Summary()
		hasImage = latest.Image != ""
		update.Timestamp = &latest.Timestamp
	}

	return r.store.UpdateRoomSummary(ctx, roomId, update)
}

// DeleteConversation removes the room and all its messages.
func (r *Router) DeleteConversation(ctx context.Context, roomId string) error {
	if roomId == "" {
		return ErrMissingRoom
	}
	if roomId == types.AdminRoomId {
		return ErrForbidden
	}

	_, err := r.store.GetRoom(ctx, roomId)
	if errors.Is(err, database.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return persistence("get room", err)
	}

	if err := r.store.DeleteRoom(ctx, roomId); err != nil {
		return persistence("delete room", err)
	}
	r.log.Info("conversation deleted", zap.String("room_id", roomId))

	ref := types.RoomRef{RoomId: roomId}
	r.hub.Broadcast(Target{Admins: true}, types.Event{Name: types.EventConversationDeleted, Data: ref})
	r.hub.Broadcast(Target{RoomId: roomId}, types.Event{Name: types.EventChatEndedByAdmin, Data: ref})
	r.broadcastChatList(ctx)

	return nil
}

// ChatList returns the rooms by recency with the admin room first.
func (r *Router) ChatList(ctx context.Context) ([]types.Room, error) {
	rooms, err := r.store.ListRoomsByRecency(ctx)
	if err != nil {
		return nil, persistence("list rooms", err)
	}

	return append([]types.Room{types.AdminRoom(database.Now())}, rooms...), nil
}

func (r *Router) SaveRoomSubscription(ctx context.Context, roomId string, sub types.PushSubscription) error {
	if roomId == "" {
		return ErrMissingRoom
	}
	if !sub.Valid() {
		return ErrInvalidSubscription
	}
	if roomId == types.AdminRoomId {
		return ErrForbidden
	}

	err := r.store.AddRoomSubscription(ctx, roomId, sub)
	if errors.Is(err, database.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return persistence("add room subscription", err)
	}

	return nil
}

func (r *Router) SaveAdminSubscription(ctx context.Context, sub types.PushSubscription) error {
	if !sub.Valid() {
		return ErrInvalidSubscription
	}

	if err := r.store.SaveAdminSubscription(ctx, sub); err != nil {
		return persistence("save admin subscription", err)
	}

	return nil
}

func (r *Router) history(ctx context.Context, roomId string, locked bool) (types.RoomHistory, error) {
	msgs, err := r.store.ListMessages(ctx, roomId)
	if err != nil {
		return types.RoomHistory{}, persistence("list messages", err)
	}

	return types.RoomHistory{RoomId: roomId, Messages: msgs, IsLocked: locked}, nil
}

func (r *Router) broadcastChatList(ctx context.Context) {
	rooms, err := r.ChatList(ctx)
	if err != nil {
		r.log.Error("failed to build chat list", zap.Error(err))
		return
	}

	r.hub.Broadcast(Target{Admins: true}, types.Event{Name: types.EventChatList, Data: rooms})
}

// goDetached runs fn outside the caller's request lifetime. Panics are
// contained so a notification bug cannot take down the process.
func (r *Router) goDetached(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("detached task panicked", zap.String("task", name), zap.Any("panic", rec))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.detachedTimeout)
		defer cancel()

		fn(ctx)
	}()
}

// Wait blocks until every detached task has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}
