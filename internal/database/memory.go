package database

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/jam-chat/internal/types"
)

type messageKey struct {
	roomId    string
	messageId string
}

// MemoryChatRepository keeps all collections in process memory. It is meant
// for single instance deployments and tests.
type MemoryChatRepository struct {
	mu          sync.RWMutex
	rooms       map[string]types.Room
	connections map[string]types.Connection
	userConns   map[string]map[string]struct{}
	messages    map[messageKey]types.Message
	now         func() time.Time
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		rooms:       make(map[string]types.Room),
		connections: make(map[string]types.Connection),
		userConns:   make(map[string]map[string]struct{}),
		messages:    make(map[messageKey]types.Message),
		now:         types.Now,
	}
}

func (m *MemoryChatRepository) Ping(_ context.Context) error {
	return nil
}

func (m *MemoryChatRepository) Close() error {
	return nil
}

func (m *MemoryChatRepository) GetRoom(_ context.Context, id string) (types.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[id]
	if !ok {
		return types.Room{}, fmt.Errorf("room %q: %w", id, ErrNotFound)
	}

	return room.Clone(), nil
}

func (m *MemoryChatRepository) PutRoom(_ context.Context, room types.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rooms[room.Id] = room.Clone()
	return nil
}

func (m *MemoryChatRepository) UpdateRoom(_ context.Context, id string, upd RoomUpdate) (types.Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[id]
	if !ok {
		return types.Room{}, false, fmt.Errorf("room %q: %w", id, ErrNotFound)
	}

	room = room.Clone()
	changed, err := upd.Apply(&room)
	if err != nil {
		return room, false, fmt.Errorf("room %q: %w", id, err)
	}

	if changed {
		m.rooms[id] = room.Clone()
	}

	return room, changed, nil
}

func (m *MemoryChatRepository) ScanRooms(_ context.Context, filter RoomFilter) ([]types.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]types.Room, 0)
	for _, room := range m.rooms {
		if filter.Limit > 0 && len(rooms) >= filter.Limit {
			break
		}
		if filter.Match(room) {
			rooms = append(rooms, room.Clone())
		}
	}

	return rooms, nil
}

func (m *MemoryChatRepository) PutConnection(_ context.Context, conn types.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.connections[conn.ConnectionId]; ok && prev.UserId != conn.UserId {
		m.unindexConnection(prev)
	}

	m.connections[conn.ConnectionId] = conn
	if m.userConns[conn.UserId] == nil {
		m.userConns[conn.UserId] = make(map[string]struct{})
	}
	m.userConns[conn.UserId][conn.ConnectionId] = struct{}{}

	return nil
}

func (m *MemoryChatRepository) GetConnection(_ context.Context, connectionId string) (types.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.connections[connectionId]
	if !ok {
		return types.Connection{}, fmt.Errorf("connection %q: %w", connectionId, ErrNotFound)
	}

	return conn, nil
}

func (m *MemoryChatRepository) DeleteConnection(_ context.Context, connectionId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connectionId]
	if !ok {
		return nil
	}

	delete(m.connections, connectionId)
	m.unindexConnection(conn)

	return nil
}

func (m *MemoryChatRepository) unindexConnection(conn types.Connection) {
	if ids, ok := m.userConns[conn.UserId]; ok {
		delete(ids, conn.ConnectionId)
		if len(ids) == 0 {
			delete(m.userConns, conn.UserId)
		}
	}
}

func (m *MemoryChatRepository) ConnectionsByUser(_ context.Context, userId string) ([]types.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]types.Connection, 0, len(m.userConns[userId]))
	for id := range m.userConns[userId] {
		conns = append(conns, m.connections[id])
	}

	slices.SortFunc(conns, func(a, b types.Connection) int {
		return cmp.Compare(a.ConnectedAt, b.ConnectedAt)
	})

	return conns, nil
}

func (m *MemoryChatRepository) PutMessage(_ context.Context, msg types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := messageKey{roomId: msg.RoomId, messageId: msg.Id}
	if prev, ok := m.messages[key]; ok && !prev.Expired(m.now()) {
		return fmt.Errorf("message %q in room %q: %w", msg.Id, msg.RoomId, ErrDuplicateMessage)
	}

	m.messages[key] = msg
	return nil
}

func (m *MemoryChatRepository) GetMessage(_ context.Context, roomId, messageId string) (types.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[messageKey{roomId: roomId, messageId: messageId}]
	if !ok || msg.Expired(m.now()) {
		return types.Message{}, fmt.Errorf("message %q in room %q: %w", messageId, roomId, ErrNotFound)
	}

	return msg, nil
}

func (m *MemoryChatRepository) DeleteExpiredMessages(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for key, msg := range m.messages {
		if msg.Expired(now) {
			delete(m.messages, key)
			n++
		}
	}

	return n, nil
}
