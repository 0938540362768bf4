package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/npezzotti/jam-chat/internal/database"
	"github.com/npezzotti/jam-chat/internal/stats"
	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/sirupsen/logrus"
)

// ErrGone is returned by a Sender when it owns the connection and the
// socket no longer exists. Only ErrGone causes the record to be pruned.
var ErrGone = errors.New("connection gone")

// Sender delivers a serialized frame to a single connection. The full record
// is passed so a sender can route by the instance that holds the socket.
type Sender interface {
	Send(ctx context.Context, conn types.Connection, payload []byte) error
}

// Dispatcher fans a payload out to every live connection of every
// participant of a room. Connections are resolved at send time, so a room
// never holds a reference to a connection.
type Dispatcher struct {
	repo   database.ChatRepository
	sender Sender
	log    *logrus.Logger
	stats  stats.StatsProvider
}

func NewDispatcher(repo database.ChatRepository, sender Sender, logger *logrus.Logger, st stats.StatsProvider) *Dispatcher {
	st.RegisterMetric(stats.Deliveries)
	st.RegisterMetric(stats.StaleConnections)
	st.RegisterMetric(stats.FailedDeliveries)

	return &Dispatcher{
		repo:   repo,
		sender: sender,
		log:    logger,
		stats:  st,
	}
}

// SendToRoom delivers payload to the participants of an active room. A
// missing or closed room is silently skipped. Delivery failures are logged
// and never reach the caller.
func (d *Dispatcher) SendToRoom(ctx context.Context, roomId string, payload any) {
	room, err := d.repo.GetRoom(ctx, roomId)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			d.log.WithField("room_id", roomId).Errorf("send to room: %s", err)
		}
		return
	}

	if !room.IsActive() {
		return
	}

	d.Broadcast(ctx, room, payload)
}

// Broadcast delivers payload to the participants of an already loaded room
// regardless of its status.
func (d *Dispatcher) Broadcast(ctx context.Context, room types.Room, payload any) {
	data, err := encode(payload)
	if err != nil {
		d.log.WithField("room_id", room.Id).Errorf("encode payload: %s", err)
		return
	}

	for _, userId := range room.Participants {
		conns, err := d.repo.ConnectionsByUser(ctx, userId)
		if err != nil {
			d.log.WithFields(logrus.Fields{
				"room_id": room.Id,
				"user_id": userId,
			}).Errorf("lookup connections: %s", err)
			continue
		}

		for _, conn := range conns {
			d.deliver(ctx, room.Id, conn, data)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, roomId string, conn types.Connection, data []byte) {
	fields := logrus.Fields{
		"room_id":       roomId,
		"user_id":       conn.UserId,
		"connection_id": conn.ConnectionId,
		"instance_id":   conn.InstanceId,
	}

	err := d.sender.Send(ctx, conn, data)
	switch {
	case err == nil:
		d.stats.Incr(stats.Deliveries)
	case errors.Is(err, ErrGone):
		d.log.WithFields(fields).Debug("pruning stale connection")
		if err := d.repo.DeleteConnection(ctx, conn.ConnectionId); err != nil {
			d.log.WithFields(fields).Errorf("delete stale connection: %s", err)
			return
		}
		d.stats.Incr(stats.StaleConnections)
	default:
		d.log.WithFields(fields).Warnf("send: %s", err)
		d.stats.Incr(stats.FailedDeliveries)
	}
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %T: %w", payload, err)
		}
		return data, nil
	}
}
