package api

import (
	"context"

	"github.com/npezzotti/jam-chat/internal/chat"
	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/stretchr/testify/mock"
)

type mockChatService struct {
	mock.Mock
}

func (m *mockChatService) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *mockChatService) CreateRoom(ctx context.Context, params chat.CreateRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *mockChatService) SearchRooms(ctx context.Context, params chat.SearchParams) ([]types.Room, error) {
	args := m.Called(ctx, params)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockChatService) JoinRoom(ctx context.Context, roomId, userId string) (types.Room, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *mockChatService) CloseRoom(ctx context.Context, roomId, userId string) error {
	args := m.Called(ctx, roomId, userId)
	return args.Error(0)
}
func (m *mockChatService) Connect(ctx context.Context, connectionId, userId string) error {
	args := m.Called(ctx, connectionId, userId)
	return args.Error(0)
}
func (m *mockChatService) Disconnect(ctx context.Context, connectionId string) error {
	args := m.Called(ctx, connectionId)
	return args.Error(0)
}
