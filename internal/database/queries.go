package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/jam-chat/internal/types"
)

const roomColumns = "id, latitude, longitude, radius, road_name, creator, participants, " +
	"max_participants, last_activity, status, room_type"

const (
	addParticipantQuery = "UPDATE rooms SET participants = array_append(participants, $2::text), last_activity = $3 " +
		"WHERE id = $1 AND status = 'active' AND cardinality(participants) < max_participants " +
		"AND NOT ($2::text = ANY(participants)) RETURNING " + roomColumns
	removeParticipantQuery = "UPDATE rooms SET participants = array_remove(participants, $2::text), last_activity = $3 " +
		"WHERE id = $1 AND status = 'active' AND creator <> $2::text AND $2::text = ANY(participants) RETURNING " + roomColumns
	touchRoomQuery = "UPDATE rooms SET last_activity = GREATEST(last_activity, $2) " +
		"WHERE id = $1 AND status = 'active' RETURNING " + roomColumns
	closeRoomQuery = "UPDATE rooms SET status = 'closed' " +
		"WHERE id = $1 AND status = 'active' RETURNING " + roomColumns
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (types.Room, error) {
	var (
		room     types.Room
		status   string
		roomType string
	)

	err := row.Scan(
		&room.Id,
		&room.Location.Latitude,
		&room.Location.Longitude,
		&room.Radius,
		&room.RoadName,
		&room.Creator,
		pq.Array(&room.Participants),
		&room.MaxParticipants,
		&room.LastActivity,
		&status,
		&roomType,
	)
	if err != nil {
		return types.Room{}, err
	}

	room.Status = types.RoomStatus(status)
	room.RoomType = types.RoomType(roomType)
	if room.Participants == nil {
		room.Participants = []string{}
	}

	return room, nil
}

func (db *PgChatRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgChatRepository) GetRoom(ctx context.Context, id string) (types.Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE id = $1 LIMIT 1",
		id,
	)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Room{}, fmt.Errorf("room %q: %w", id, ErrNotFound)
	}

	return room, err
}

func (db *PgChatRepository) PutRoom(ctx context.Context, room types.Room) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO rooms ("+roomColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) "+
			"ON CONFLICT (id) DO UPDATE SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, "+
			"radius = EXCLUDED.radius, road_name = EXCLUDED.road_name, creator = EXCLUDED.creator, "+
			"participants = EXCLUDED.participants, max_participants = EXCLUDED.max_participants, "+
			"last_activity = EXCLUDED.last_activity, status = EXCLUDED.status, room_type = EXCLUDED.room_type",
		room.Id,
		room.Location.Latitude,
		room.Location.Longitude,
		room.Radius,
		room.RoadName,
		room.Creator,
		pq.Array(room.Participants),
		room.MaxParticipants,
		room.LastActivity,
		string(room.Status),
		string(room.RoomType),
	)

	return err
}

func updateRoomQuery(id string, upd RoomUpdate) (string, []any, error) {
	switch upd.Op {
	case OpAddParticipant:
		return addParticipantQuery, []any{id, upd.UserId, upd.Activity}, nil
	case OpRemoveParticipant:
		return removeParticipantQuery, []any{id, upd.UserId, upd.Activity}, nil
	case OpTouch:
		return touchRoomQuery, []any{id, upd.Activity}, nil
	case OpClose:
		return closeRoomQuery, []any{id}, nil
	default:
		return "", nil, fmt.Errorf("unknown room update %s", upd.Op)
	}
}

// UpdateRoom runs the update as a single conditional statement. When the
// condition does not hold the current row is read back to tell a no-op from
// a rejected update; if the row moved in between, the statement is retried.
func (db *PgChatRepository) UpdateRoom(ctx context.Context, id string, upd RoomUpdate) (types.Room, bool, error) {
	query, args, err := updateRoomQuery(id, upd)
	if err != nil {
		return types.Room{}, false, err
	}

	for attempt := 0; attempt < db.retries; attempt++ {
		room, err := scanRoom(db.conn.QueryRowContext(ctx, query, args...))
		if err == nil {
			return room, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return types.Room{}, false, fmt.Errorf("update room %q: %w", id, err)
		}

		current, err := db.GetRoom(ctx, id)
		if err != nil {
			return types.Room{}, false, err
		}

		probe := current.Clone()
		changed, err := upd.Apply(&probe)
		if err != nil {
			return current, false, fmt.Errorf("room %q: %w", id, err)
		}
		if !changed {
			return current, false, nil
		}
	}

	return types.Room{}, false, fmt.Errorf("room %q: %w", id, ErrConflict)
}

func (db *PgChatRepository) ScanRooms(ctx context.Context, filter RoomFilter) ([]types.Room, error) {
	var (
		conds []string
		args  []any
	)

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.InactiveSince != 0 {
		args = append(args, filter.InactiveSince)
		conds = append(conds, fmt.Sprintf("last_activity < $%d", len(args)))
	}
	if filter.Participant != "" {
		args = append(args, filter.Participant)
		conds = append(conds, fmt.Sprintf("$%d::text = ANY(participants)", len(args)))
	}

	query := "SELECT " + roomColumns + " FROM rooms"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_activity"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]types.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rooms = append(rooms, room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return rooms, nil
}

func (db *PgChatRepository) PutConnection(ctx context.Context, conn types.Connection) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO connections (connection_id, user_id, room_id, connected_at, instance_id) VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (connection_id) DO UPDATE SET user_id = EXCLUDED.user_id, "+
			"room_id = EXCLUDED.room_id, connected_at = EXCLUDED.connected_at, instance_id = EXCLUDED.instance_id",
		conn.ConnectionId,
		conn.UserId,
		conn.RoomId,
		conn.ConnectedAt,
		conn.InstanceId,
	)

	return err
}

func (db *PgChatRepository) GetConnection(ctx context.Context, connectionId string) (types.Connection, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT connection_id, user_id, room_id, connected_at, instance_id FROM connections "+
			"WHERE connection_id = $1 LIMIT 1",
		connectionId,
	)

	var conn types.Connection
	err := row.Scan(
		&conn.ConnectionId,
		&conn.UserId,
		&conn.RoomId,
		&conn.ConnectedAt,
		&conn.InstanceId,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Connection{}, fmt.Errorf("connection %q: %w", connectionId, ErrNotFound)
	}

	return conn, err
}

func (db *PgChatRepository) DeleteConnection(ctx context.Context, connectionId string) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM connections WHERE connection_id = $1",
		connectionId,
	)

	return err
}

func (db *PgChatRepository) ConnectionsByUser(ctx context.Context, userId string) ([]types.Connection, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT connection_id, user_id, room_id, connected_at, instance_id FROM connections "+
			"WHERE user_id = $1 ORDER BY connected_at",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := make([]types.Connection, 0)
	for rows.Next() {
		var conn types.Connection
		if err := rows.Scan(&conn.ConnectionId, &conn.UserId, &conn.RoomId, &conn.ConnectedAt, &conn.InstanceId); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		conns = append(conns, conn)
	}

	return conns, rows.Err()
}

// PutMessage only overwrites an existing row once it has expired, so a
// replayed message id is reported as a duplicate.
func (db *PgChatRepository) PutMessage(ctx context.Context, msg types.Message) error {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO messages (room_id, message_id, text, created_at, user_id, user_name, user_icon, user_color, expires_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) "+
			"ON CONFLICT (room_id, message_id) DO UPDATE SET text = EXCLUDED.text, created_at = EXCLUDED.created_at, "+
			"user_id = EXCLUDED.user_id, user_name = EXCLUDED.user_name, user_icon = EXCLUDED.user_icon, "+
			"user_color = EXCLUDED.user_color, expires_at = EXCLUDED.expires_at "+
			"WHERE messages.expires_at <= $10",
		msg.RoomId,
		msg.Id,
		msg.Text,
		msg.CreatedAt,
		msg.UserId,
		msg.UserName,
		msg.UserIcon,
		msg.UserColor,
		msg.ExpiresAt,
		time.Now().Unix(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %q in room %q: %w", msg.Id, msg.RoomId, ErrDuplicateMessage)
	}

	return nil
}

func (db *PgChatRepository) GetMessage(ctx context.Context, roomId, messageId string) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT room_id, message_id, text, created_at, user_id, user_name, user_icon, user_color, expires_at "+
			"FROM messages WHERE room_id = $1 AND message_id = $2 AND expires_at > $3 LIMIT 1",
		roomId,
		messageId,
		time.Now().Unix(),
	)

	var msg types.Message
	err := row.Scan(
		&msg.RoomId,
		&msg.Id,
		&msg.Text,
		&msg.CreatedAt,
		&msg.UserId,
		&msg.UserName,
		&msg.UserIcon,
		&msg.UserColor,
		&msg.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, fmt.Errorf("message %q in room %q: %w", messageId, roomId, ErrNotFound)
	}
	if err != nil {
		return types.Message{}, err
	}

	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (db *PgChatRepository) DeleteExpiredMessages(ctx context.Context, now time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM messages WHERE expires_at <= $1",
		now.Unix(),
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}
