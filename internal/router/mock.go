package router

import (
	"context"

	"github.com/npezzotti/go-supportchat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyUser(ctx context.Context, room types.Room, msg types.Message) {
	m.Called(ctx, room, msg)
}

func (m *MockNotifier) NotifyAdmins(ctx context.Context, room types.Room, msg types.Message) {
	m.Called(ctx, room, msg)
}

func (m *MockNotifier) NotifyNewConversation(ctx context.Context, room types.Room) {
	m.Called(ctx, room)
}
