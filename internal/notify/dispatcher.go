// Package notify delivers out-of-band alerts to whichever party did not
// send a message: browser push for users and admins, Telegram for admins.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/npezzotti/go-supportchat/internal/stats"
	"github.com/npezzotti/go-supportchat/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultIcon        = "/icons/icon-192x192.png"
	defaultConcurrency = 8

	adminSenderTitle     = "Tin nhắn từ Quản trị viên"
	newConversationTitle = "Cuộc trò chuyện mới"
)

// Payload is the JSON document the service worker renders.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	URL   string `json:"url"`
	Tag   string `json:"tag,omitempty"`
}

// SubscriptionStore is the part of the room store the dispatcher needs to
// read admin endpoints and prune dead ones.
type SubscriptionStore interface {
	RemoveRoomSubscription(ctx context.Context, roomId, endpoint string) error
	ListAdminSubscriptions(ctx context.Context) ([]types.PushSubscription, error)
	RemoveAdminSubscription(ctx context.Context, endpoint string) error
}

// TelegramRelay forwards a user message to the operator chat.
type TelegramRelay interface {
	RelayMessage(ctx context.Context, room types.Room, msg types.Message) error
}

type Dispatcher struct {
	store       SubscriptionStore
	pusher      Pusher
	relay       TelegramRelay
	stats       stats.StatsProvider
	log         *zap.Logger
	icon        string
	concurrency int
}

type Option func(*Dispatcher)

// WithPusher enables browser push. Without it only Telegram is used.
func WithPusher(p Pusher) Option {
	return func(d *Dispatcher) { d.pusher = p }
}

func WithTelegram(r TelegramRelay) Option {
	return func(d *Dispatcher) { d.relay = r }
}

func WithStats(sp stats.StatsProvider) Option {
	return func(d *Dispatcher) { d.stats = sp }
}

func WithIcon(icon string) Option {
	return func(d *Dispatcher) { d.icon = icon }
}

// WithConcurrency bounds the number of in-flight pushes per fan-out.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func NewDispatcher(store SubscriptionStore, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		stats:       stats.Discard,
		log:         logger,
		icon:        DefaultIcon,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// NotifyUser pushes an admin reply to every device subscribed to the room.
func (d *Dispatcher) NotifyUser(ctx context.Context, room types.Room, msg types.Message) {
	d.pushAll(ctx, stats.AudienceUser, room.PushSubscriptions, d.payload(adminSenderTitle, msg.Summary(), room.Id), func(ctx context.Context, endpoint string) error {
		return d.store.RemoveRoomSubscription(ctx, room.Id, endpoint)
	})
}

// NotifyAdmins pushes a user message to every admin device and relays it to
// Telegram when configured.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, room types.Room, msg types.Message) {
	sender := msg.DisplayName
	if sender == "" {
		sender = room.DisplayName
	}

	d.pushToAdmins(ctx, d.payload(fmt.Sprintf("Tin nhắn từ %s", sender), msg.Summary(), room.Id))

	if d.relay == nil {
		return
	}

	if err := d.relay.RelayMessage(ctx, room, msg); err != nil {
		d.stats.TelegramRelayed("error")
		d.log.Warn("telegram relay failed",
			zap.String("room_id", room.Id),
			zap.String("message_id", msg.Id),
			zap.Error(err),
		)
		return
	}
	d.stats.TelegramRelayed("ok")
}

// NotifyNewConversation alerts admins that a user opened a room for the
// first time.
func (d *Dispatcher) NotifyNewConversation(ctx context.Context, room types.Room) {
	p := d.payload(newConversationTitle, fmt.Sprintf("%s vừa bắt đầu cuộc trò chuyện.", room.DisplayName), room.Id)
	p.Tag = "new-" + room.Id
	d.pushToAdmins(ctx, p)
}

func (d *Dispatcher) pushToAdmins(ctx context.Context, p Payload) {
	if d.pusher == nil {
		return
	}

	subs, err := d.store.ListAdminSubscriptions(ctx)
	if err != nil {
		d.log.Error("failed to list admin subscriptions", zap.Error(err))
		return
	}

	d.pushAll(ctx, stats.AudienceAdmin, subs, p, d.store.RemoveAdminSubscription)
}

func (d *Dispatcher) payload(title, body, roomId string) Payload {
	return Payload{
		Title: title,
		Body:  body,
		Icon:  d.icon,
		URL:   "/?roomId=" + roomId,
		Tag:   "room-" + roomId,
	}
}

func (d *Dispatcher) pushAll(ctx context.Context, audience string, subs []types.PushSubscription, p Payload, prune func(context.Context, string) error) {
	if d.pusher == nil || len(subs) == 0 {
		return
	}

	body, err := json.Marshal(p)
	if err != nil {
		d.log.Error("failed to encode push payload", zap.Error(err))
		return
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			d.deliver(ctx, audience, sub, body, prune)
			return nil
		})
	}
	g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, audience string, sub types.PushSubscription, body []byte, prune func(context.Context, string) error) {
	status, err := d.pusher.Push(ctx, sub, body)
	if err == nil {
		d.stats.PushSent(audience)
		return
	}

	var derr *DeliveryError
	if !errors.As(err, &derr) {
		derr = &DeliveryError{Endpoint: sub.Endpoint, StatusCode: status, Err: err}
	}
	if derr.StatusCode == 0 {
		derr.StatusCode = status
	}

	if derr.Gone() {
		d.stats.SubscriptionPruned(audience)
		if err := prune(ctx, sub.Endpoint); err != nil {
			d.log.Error("failed to prune push subscription",
				zap.String("audience", audience),
				zap.String("endpoint", sub.Endpoint),
				zap.Error(err),
			)
			return
		}
		d.log.Info("pruned expired push subscription",
			zap.String("audience", audience),
			zap.String("endpoint", sub.Endpoint),
			zap.Int("status", derr.StatusCode),
		)
		return
	}

	reason := "transport"
	if derr.StatusCode != 0 {
		reason = "rejected"
	}
	d.stats.PushFailed(audience, reason)
	d.log.Warn("push delivery failed",
		zap.String("audience", audience),
		zap.String("endpoint", sub.Endpoint),
		zap.Int("status", derr.StatusCode),
		zap.Error(derr),
	)
}
