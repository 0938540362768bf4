package database

import (
	"context"
	"time"

	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) GetRoom(ctx context.Context, id string) (types.Room, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) PutRoom(ctx context.Context, room types.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}
func (m *MockChatRepository) UpdateRoom(ctx context.Context, id string, upd RoomUpdate) (types.Room, bool, error) {
	args := m.Called(ctx, id, upd)
	return args.Get(0).(types.Room), args.Bool(1), args.Error(2)
}
func (m *MockChatRepository) ScanRooms(ctx context.Context, filter RoomFilter) ([]types.Room, error) {
	args := m.Called(ctx, filter)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) PutConnection(ctx context.Context, conn types.Connection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}
func (m *MockChatRepository) GetConnection(ctx context.Context, connectionId string) (types.Connection, error) {
	args := m.Called(ctx, connectionId)
	return args.Get(0).(types.Connection), args.Error(1)
}
func (m *MockChatRepository) DeleteConnection(ctx context.Context, connectionId string) error {
	args := m.Called(ctx, connectionId)
	return args.Error(0)
}
func (m *MockChatRepository) ConnectionsByUser(ctx context.Context, userId string) ([]types.Connection, error) {
	args := m.Called(ctx, userId)
	if conns, ok := args.Get(0).([]types.Connection); ok {
		return conns, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) PutMessage(ctx context.Context, msg types.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, roomId, messageId string) (types.Message, error) {
	args := m.Called(ctx, roomId, messageId)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) DeleteExpiredMessages(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}
