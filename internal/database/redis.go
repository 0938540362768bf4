package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/sirupsen/logrus"
)

const defaultKeyPrefix = "jam:"

// RedisChatRepository stores each record as a JSON document. Rooms are
// indexed by two sets (all rooms and active rooms) and connections by a set
// per user. Room updates run in a WATCH/MULTI transaction that is retried a
// bounded number of times when another writer touches the room.
type RedisChatRepository struct {
	client    *redis.Client
	keyPrefix string
	retries   int
	log       *logrus.Logger
}

func NewRedisChatRepository(client *redis.Client, keyPrefix string, logger *logrus.Logger) *RedisChatRepository {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisChatRepository{
		client:    client,
		keyPrefix: keyPrefix,
		retries:   defaultUpdateRetries,
		log:       logger,
	}
}

func (r *RedisChatRepository) roomKey(id string) string {
	return r.keyPrefix + "room:" + id
}

func (r *RedisChatRepository) allRoomsKey() string {
	return r.keyPrefix + "rooms"
}

func (r *RedisChatRepository) activeRoomsKey() string {
	return r.keyPrefix + "rooms:active"
}

func (r *RedisChatRepository) connectionKey(id string) string {
	return r.keyPrefix + "conn:" + id
}

func (r *RedisChatRepository) userConnectionsKey(userId string) string {
	return r.keyPrefix + "user:" + userId + ":conns"
}

func (r *RedisChatRepository) messageKey(roomId, messageId string) string {
	return r.keyPrefix + "msg:" + roomId + ":" + messageId
}

func (r *RedisChatRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisChatRepository) Close() error {
	return r.client.Close()
}

func (r *RedisChatRepository) GetRoom(ctx context.Context, id string) (types.Room, error) {
	return r.getRoom(ctx, r.client, id)
}

func (r *RedisChatRepository) getRoom(ctx context.Context, c redis.Cmdable, id string) (types.Room, error) {
	raw, err := c.Get(ctx, r.roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Room{}, fmt.Errorf("room %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.Room{}, fmt.Errorf("redis: get room %q: %w", id, err)
	}

	var room types.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return types.Room{}, fmt.Errorf("redis: decode room %q: %w", id, err)
	}

	return room.Clone(), nil
}

func (r *RedisChatRepository) writeRoom(ctx context.Context, pipe redis.Pipeliner, room types.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("redis: encode room %q: %w", room.Id, err)
	}

	pipe.Set(ctx, r.roomKey(room.Id), raw, 0)
	pipe.SAdd(ctx, r.allRoomsKey(), room.Id)
	if room.IsActive() {
		pipe.SAdd(ctx, r.activeRoomsKey(), room.Id)
	} else {
		pipe.SRem(ctx, r.activeRoomsKey(), room.Id)
	}

	return nil
}

func (r *RedisChatRepository) PutRoom(ctx context.Context, room types.Room) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return r.writeRoom(ctx, pipe, room)
	})
	if err != nil {
		return fmt.Errorf("redis: put room %q: %w", room.Id, err)
	}

	return nil
}

func (r *RedisChatRepository) UpdateRoom(ctx context.Context, id string, upd RoomUpdate) (types.Room, bool, error) {
	var (
		result  types.Room
		changed bool
	)

	txf := func(tx *redis.Tx) error {
		room, err := r.getRoom(ctx, tx, id)
		if err != nil {
			return err
		}

		changed, err = upd.Apply(&room)
		result = room
		if err != nil {
			return fmt.Errorf("room %q: %w", id, err)
		}
		if !changed {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.writeRoom(ctx, pipe, room)
		})
		return err
	}

	for attempt := 0; attempt < r.retries; attempt++ {
		err := r.client.Watch(ctx, txf, r.roomKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return result, false, err
		}

		return result, changed, nil
	}

	return types.Room{}, false, fmt.Errorf("room %q: %w", id, ErrConflict)
}

func (r *RedisChatRepository) ScanRooms(ctx context.Context, filter RoomFilter) ([]types.Room, error) {
	setKey := r.allRoomsKey()
	if filter.Status == types.RoomStatusActive {
		setKey = r.activeRoomsKey()
	}

	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: scan rooms: %w", err)
	}

	rooms := make([]types.Room, 0)
	if len(ids) == 0 {
		return rooms, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.roomKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: scan rooms: %w", err)
	}

	for _, v := range values {
		if filter.Limit > 0 && len(rooms) >= filter.Limit {
			break
		}

		s, ok := v.(string)
		if !ok {
			continue
		}

		var room types.Room
		if err := json.Unmarshal([]byte(s), &room); err != nil {
			return nil, fmt.Errorf("redis: decode room: %w", err)
		}

		if filter.Match(room) {
			rooms = append(rooms, room.Clone())
		}
	}

	return rooms, nil
}

func (r *RedisChatRepository) PutConnection(ctx context.Context, conn types.Connection) error {
	raw, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("redis: encode connection %q: %w", conn.ConnectionId, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.connectionKey(conn.ConnectionId), raw, 0)
		pipe.SAdd(ctx, r.userConnectionsKey(conn.UserId), conn.ConnectionId)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: put connection %q: %w", conn.ConnectionId, err)
	}

	return nil
}

func (r *RedisChatRepository) GetConnection(ctx context.Context, connectionId string) (types.Connection, error) {
	raw, err := r.client.Get(ctx, r.connectionKey(connectionId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Connection{}, fmt.Errorf("connection %q: %w", connectionId, ErrNotFound)
	}
	if err != nil {
		return types.Connection{}, fmt.Errorf("redis: get connection %q: %w", connectionId, err)
	}

	var conn types.Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return types.Connection{}, fmt.Errorf("redis: decode connection %q: %w", connectionId, err)
	}

	return conn, nil
}

func (r *RedisChatRepository) DeleteConnection(ctx context.Context, connectionId string) error {
	conn, err := r.GetConnection(ctx, connectionId)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.connectionKey(connectionId))
		pipe.SRem(ctx, r.userConnectionsKey(conn.UserId), connectionId)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: delete connection %q: %w", connectionId, err)
	}

	return nil
}

func (r *RedisChatRepository) ConnectionsByUser(ctx context.Context, userId string) ([]types.Connection, error) {
	ids, err := r.client.SMembers(ctx, r.userConnectionsKey(userId)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: connections for %q: %w", userId, err)
	}

	conns := make([]types.Connection, 0, len(ids))
	if len(ids) == 0 {
		return conns, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.connectionKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: connections for %q: %w", userId, err)
	}

	var dangling []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			dangling = append(dangling, ids[i])
			continue
		}

		var conn types.Connection
		if err := json.Unmarshal([]byte(s), &conn); err != nil {
			return nil, fmt.Errorf("redis: decode connection %q: %w", ids[i], err)
		}
		conns = append(conns, conn)
	}

	if len(dangling) > 0 {
		// index entries whose record is gone, best effort
		if err := r.client.SRem(ctx, r.userConnectionsKey(userId), dangling...).Err(); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"user_id":  userId,
				"dangling": len(dangling),
			}).Warn("redis: prune connection index")
		}
	}

	return conns, nil
}

// PutMessage relies on SETNX for idempotency and on the key expiry for the
// message TTL.
func (r *RedisChatRepository) PutMessage(ctx context.Context, msg types.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: encode message %q: %w", msg.Id, err)
	}

	ttl := time.Until(time.Unix(msg.ExpiresAt, 0))
	if ttl <= 0 {
		return nil
	}

	ok, err := r.client.SetNX(ctx, r.messageKey(msg.RoomId, msg.Id), raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: put message %q: %w", msg.Id, err)
	}
	if !ok {
		return fmt.Errorf("message %q in room %q: %w", msg.Id, msg.RoomId, ErrDuplicateMessage)
	}

	return nil
}

func (r *RedisChatRepository) GetMessage(ctx context.Context, roomId, messageId string) (types.Message, error) {
	raw, err := r.client.Get(ctx, r.messageKey(roomId, messageId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Message{}, fmt.Errorf("message %q in room %q: %w", messageId, roomId, ErrNotFound)
	}
	if err != nil {
		return types.Message{}, fmt.Errorf("redis: get message %q: %w", messageId, err)
	}

	var msg types.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return types.Message{}, fmt.Errorf("redis: decode message %q: %w", messageId, err)
	}

	return msg, nil
}

// DeleteExpiredMessages is a no-op, redis expires message keys on its own.
func (r *RedisChatRepository) DeleteExpiredMessages(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}
