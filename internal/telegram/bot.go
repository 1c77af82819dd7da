// Package telegram relays user messages to an operator chat and turns the
// operator's replies back into admin messages.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/npezzotti/go-supportchat/internal/config"
	"github.com/npezzotti/go-supportchat/internal/media"
	"github.com/npezzotti/go-supportchat/internal/router"
	"github.com/npezzotti/go-supportchat/internal/stats"
	"github.com/npezzotti/go-supportchat/internal/types"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const (
	pollTimeout  = 60
	maxPhotoSize = 20 << 20
)

// BotAPI is the subset of *tgbotapi.BotAPI the bot uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Submitter accepts admin replies into the message pipeline.
type Submitter interface {
	Submit(ctx context.Context, c router.Candidate) (types.Message, error)
}

type Bot struct {
	api         BotAPI
	botId       int64
	adminChatId int64
	ackReplies  bool
	limiter     ratelimit.Limiter
	httpClient  *http.Client
	stats       stats.StatsProvider
	log         *zap.Logger
}

func NewBot(cfg config.TelegramConfig, logger *zap.Logger, sp stats.StatsProvider) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))

	return newBot(api, api.Self.ID, cfg, logger, sp), nil
}

func newBot(api BotAPI, botId int64, cfg config.TelegramConfig, logger *zap.Logger, sp stats.StatsProvider) *Bot {
	if sp == nil {
		sp = stats.Discard
	}
	rate := cfg.RatePerSecond
	if rate <= 0 {
		rate = 1
	}

	return &Bot{
		api:         api,
		botId:       botId,
		adminChatId: cfg.AdminChatId,
		ackReplies:  cfg.AckReplies,
		limiter:     ratelimit.New(rate, ratelimit.WithoutSlack),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		stats:       sp,
		log:         logger,
	}
}

// RelayMessage forwards a user message to the operator chat. Images are
// sent as a photo with the relay text as caption.
func (b *Bot) RelayMessage(ctx context.Context, room types.Room, msg types.Message) error {
	name := msg.DisplayName
	if name == "" {
		name = room.DisplayName
	}
	if msg.Image == "" {
		cfg := tgbotapi.NewMessage(b.adminChatId, FormatRelay(name, room.Id, msg.Text))
		cfg.ParseMode = tgbotapi.ModeHTML
		return b.send(cfg)
	}

	file, err := photoFile(msg.Image)
	if err != nil {
		return err
	}

	cfg := tgbotapi.NewPhoto(b.adminChatId, file)
	cfg.Caption = FormatCaption(name, room.Id, msg.Text)
	cfg.ParseMode = tgbotapi.ModeHTML
	return b.send(cfg)
}

func photoFile(image string) (tgbotapi.RequestFileData, error) {
	if !media.IsDataURL(image) {
		return tgbotapi.FileURL(image), nil
	}

	_, data, err := media.ParseDataURL(image)
	if err != nil {
		return nil, err
	}
	return tgbotapi.FileBytes{Name: "image.jpg", Bytes: data}, nil
}

func (b *Bot) send(c tgbotapi.Chattable) error {
	b.limiter.Take()
	if _, err := b.api.Send(c); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (b *Bot) reply(text string) {
	if err := b.send(tgbotapi.NewMessage(b.adminChatId, text)); err != nil {
		b.log.Warn("failed to reply to operator", zap.Error(err))
	}
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, sub Submitter) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, sub, update)
		}
	}
}

// HandleUpdate routes an operator reply back into the room it answers.
// Anything that is not a reply from the operator chat to a bot message is
// ignored.
func (b *Bot) HandleUpdate(ctx context.Context, sub Submitter, update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.Chat == nil || m.Chat.ID != b.adminChatId {
		return
	}

	orig := m.ReplyToMessage
	if orig == nil || orig.From == nil || orig.From.ID != b.botId {
		return
	}

	source := orig.Text
	if source == "" {
		source = orig.Caption
	}
	roomId, ok := ExtractRoomId(source)
	if !ok {
		b.stats.TelegramRelayed("no_room_id")
		b.reply(warningNoRoomId)
		return
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	candidate := router.Candidate{
		RoomId:      roomId,
		SenderId:    types.TelegramSenderId,
		DisplayName: types.TelegramDisplayName,
		Text:        text,
		IsAdmin:     true,
	}

	if len(m.Photo) > 0 {
		image, err := b.fetchPhoto(ctx, largestPhoto(m.Photo))
		if err != nil {
			b.log.Error("failed to fetch telegram photo", zap.String("room_id", roomId), zap.Error(err))
			b.stats.TelegramRelayed("reply_error")
			b.reply(errorDelivery)
			return
		}
		candidate.Image = image
	}

	if _, err := sub.Submit(ctx, candidate); err != nil {
		b.log.Error("failed to deliver telegram reply", zap.String("room_id", roomId), zap.Error(err))
		b.stats.TelegramRelayed("reply_error")
		b.reply(errorDelivery)
		return
	}

	b.stats.TelegramRelayed("reply_ok")
	if b.ackReplies {
		b.reply(ackDelivered)
	}
}

func largestPhoto(photos []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := photos[0]
	for _, p := range photos[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

func (b *Bot) fetchPhoto(ctx context.Context, photo tgbotapi.PhotoSize) (string, error) {
	url, err := b.api.GetFileDirectURL(photo.FileID)
	if err != nil {
		return "", fmt.Errorf("resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download photo: unexpected status %d", resp.StatusCode)
	}

	return media.PhotoDataURL(io.LimitReader(resp.Body, maxPhotoSize))
}
