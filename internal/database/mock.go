package database

import (
	"context"

	"github.com/npezzotti/go-supportchat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRoomStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRoomStore) UpsertRoomOnJoin(ctx context.Context, roomId, displayName string) (types.Room, bool, error) {
	args := m.Called(ctx, roomId, displayName)
	return args.Get(0).(types.Room), args.Bool(1), args.Error(2)
}
func (m *MockRoomStore) GetRoom(ctx context.Context, roomId string) (types.Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockRoomStore) UpdateRoomSummary(ctx context.Context, roomId string, update RoomSummaryUpdate) error {
	args := m.Called(ctx, roomId, update)
	return args.Error(0)
}
func (m *MockRoomStore) ListRoomsByRecency(ctx context.Context) ([]types.Room, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Room), args.Error(1)
}
func (m *MockRoomStore) SetLocked(ctx context.Context, roomId string, locked bool) error {
	args := m.Called(ctx, roomId, locked)
	return args.Error(0)
}
func (m *MockRoomStore) DeleteRoom(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
func (m *MockRoomStore) AppendMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockRoomStore) DeleteMessage(ctx context.Context, messageId string) (types.Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockRoomStore) FindLatestMessage(ctx context.Context, roomId string) (types.Message, bool, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(types.Message), args.Bool(1), args.Error(2)
}
func (m *MockRoomStore) ListMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockRoomStore) AddRoomSubscription(ctx context.Context, roomId string, sub types.PushSubscription) error {
	args := m.Called(ctx, roomId, sub)
	return args.Error(0)
}
func (m *MockRoomStore) RemoveRoomSubscription(ctx context.Context, roomId, endpoint string) error {
	args := m.Called(ctx, roomId, endpoint)
	return args.Error(0)
}
func (m *MockRoomStore) SaveAdminSubscription(ctx context.Context, sub types.PushSubscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}
func (m *MockRoomStore) ListAdminSubscriptions(ctx context.Context) ([]types.PushSubscription, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.PushSubscription), args.Error(1)
}
func (m *MockRoomStore) RemoveAdminSubscription(ctx context.Context, endpoint string) error {
	args := m.Called(ctx, endpoint)
	return args.Error(0)
}
func (m *MockRoomStore) GetAdminByEmail(ctx context.Context, email string) (Admin, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Admin), args.Error(1)
}
func (m *MockRoomStore) CreateAdmin(ctx context.Context, params CreateAdminParams) (Admin, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Admin), args.Error(1)
}
