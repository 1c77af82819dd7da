package notify

import (
	"context"

	"github.com/npezzotti/go-supportchat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) Push(ctx context.Context, sub types.PushSubscription, payload []byte) (int, error) {
	args := m.Called(ctx, sub, payload)
	return args.Int(0), args.Error(1)
}

type MockTelegramRelay struct {
	mock.Mock
}

func (m *MockTelegramRelay) RelayMessage(ctx context.Context, room types.Room, msg types.Message) error {
	args := m.Called(ctx, room, msg)
	return args.Error(0)
}
