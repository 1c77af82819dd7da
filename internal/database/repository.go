package database

import (
	"context"

	"github.com/npezzotti/go-supportchat/internal/types"
)

// RoomStore is the single source of truth for rooms, messages and push
// subscriptions. Implementations must be safe for concurrent use and must
// apply each operation atomically on its own; callers never hold a
// transaction across calls.
type RoomStore interface {
	Ping(ctx context.Context) error
	Close() error

	UpsertRoomOnJoin(ctx context.Context, roomId, displayName string) (types.Room, bool, error)
	GetRoom(ctx context.Context, roomId string) (types.Room, error)
	UpdateRoomSummary(ctx context.Context, roomId string, update RoomSummaryUpdate) error
	ListRoomsByRecency(ctx context.Context) ([]types.Room, error)
	SetLocked(ctx context.Context, roomId string, locked bool) error
	DeleteRoom(ctx context.Context, roomId string) error

	AppendMessage(ctx context.Context, msg types.Message) (types.Message, error)
	DeleteMessage(ctx context.Context, messageId string) (types.Message, error)
	FindLatestMessage(ctx context.Context, roomId string) (types.Message, bool, error)
	ListMessages(ctx context.Context, roomId string) ([]types.Message, error)

	AddRoomSubscription(ctx context.Context, roomId string, sub types.PushSubscription) error
	RemoveRoomSubscription(ctx context.Context, roomId, endpoint string) error
	SaveAdminSubscription(ctx context.Context, sub types.PushSubscription) error
	ListAdminSubscriptions(ctx context.Context) ([]types.PushSubscription, error)
	RemoveAdminSubscription(ctx context.Context, endpoint string) error

	GetAdminByEmail(ctx context.Context, email string) (Admin, error)
	CreateAdmin(ctx context.Context, params CreateAdminParams) (Admin, error)
}
