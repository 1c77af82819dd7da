package types

import (
	"strings"
	"time"
)

const (
	// AdminRoomId is the fixed id of the administrators-only room. It is never
	// written to the room store.
	AdminRoomId          = "admins_only_chat"
	AdminRoomDisplayName = "⭐️ Phòng chat Quản trị viên"

	// TelegramSenderId identifies admin replies relayed from the bot.
	TelegramSenderId    = "admin-telegram"
	TelegramDisplayName = "Quản trị viên (Telegram)"

	ImagePlaceholder = "[Hình ảnh]"
	EmptyPlaceholder = "Cuộc trò chuyện trống"
)

type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is the descriptor a browser hands out from
// PushManager.subscribe(). The endpoint identifies it.
type PushSubscription struct {
	Endpoint       string `json:"endpoint"`
	ExpirationTime *int64 `json:"expirationTime,omitempty"`
	Keys           Keys   `json:"keys"`
}

func (s PushSubscription) Valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

type Room struct {
	Id                string             `json:"_id"`
	DisplayName       string             `json:"displayName"`
	LastMessage       string             `json:"lastMessage"`
	Timestamp         time.Time          `json:"timestamp"`
	HasUnreadAdmin    bool               `json:"hasUnreadAdmin"`
	IsClosed          bool               `json:"isClosed"`
	HasImage          bool               `json:"hasImage,omitempty"`
	IsSpecial         bool               `json:"isSpecial,omitempty"`
	PushSubscriptions []PushSubscription `json:"-"`
	CreatedAt         time.Time          `json:"createdAt,omitempty"`
}

// AdminRoom returns the virtual listing entry for the administrators-only room.
func AdminRoom(now time.Time) Room {
	return Room{
		Id:          AdminRoomId,
		DisplayName: AdminRoomDisplayName,
		LastMessage: "...",
		Timestamp:   now,
		IsSpecial:   true,
	}
}

type Message struct {
	Id          string    `json:"_id"`
	RoomId      string    `json:"roomId"`
	SenderId    string    `json:"senderId"`
	DisplayName string    `json:"displayName"`
	IsAdmin     bool      `json:"isAdmin"`
	Text        string    `json:"text,omitempty"`
	Image       string    `json:"image,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (m Message) Empty() bool {
	return strings.TrimSpace(m.Text) == "" && m.Image == ""
}

// Summary is the preview shown in room listings. It never contains the raw
// image payload.
func (m Message) Summary() string {
	if text := strings.TrimSpace(m.Text); text != "" {
		return text
	}
	if m.Image != "" {
		return ImagePlaceholder
	}
	return ""
}

type AdminIdentity struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Event is a named server-to-client notification.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

const (
	EventChatList            = "chatList"
	EventAdminList           = "adminList"
	EventRoomHistory         = "roomHistory"
	EventNewMessage          = "newMessage"
	EventChatLocked          = "chat:locked"
	EventMessageDeleted      = "messageDeleted"
	EventConversationDeleted = "conversationDeleted"
	EventChatEndedByAdmin    = "chatEndedByAdmin"
	EventError               = "error"
)

type RoomHistory struct {
	RoomId   string    `json:"roomId"`
	Messages []Message `json:"messages"`
	IsLocked bool      `json:"isLocked"`
}

type LockState struct {
	RoomId   string `json:"roomId"`
	IsLocked bool   `json:"isLocked"`
}

type MessageDeleted struct {
	MessageId string `json:"messageId"`
	RoomId    string `json:"roomId"`
}

type RoomRef struct {
	RoomId string `json:"roomId"`
}
