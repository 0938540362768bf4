package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/npezzotti/jam-chat/internal/types"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrRoomInactive     = errors.New("room is not active")
	ErrRoomFull         = errors.New("room is full")
	ErrDuplicateMessage = errors.New("duplicate message")
	ErrConflict         = errors.New("too many concurrent updates")
)

// defaultUpdateRetries bounds the compare-and-swap loops of the backends
// that cannot apply a room update in a single conditional statement.
const defaultUpdateRetries = 10

type ChatRepository interface {
	Ping(ctx context.Context) error
	Close() error

	GetRoom(ctx context.Context, id string) (types.Room, error)
	PutRoom(ctx context.Context, room types.Room) error
	// UpdateRoom applies upd atomically to the room and returns the room as
	// stored afterwards together with whether the update changed it.
	UpdateRoom(ctx context.Context, id string, upd RoomUpdate) (types.Room, bool, error)
	ScanRooms(ctx context.Context, filter RoomFilter) ([]types.Room, error)

	PutConnection(ctx context.Context, conn types.Connection) error
	GetConnection(ctx context.Context, connectionId string) (types.Connection, error)
	DeleteConnection(ctx context.Context, connectionId string) error
	ConnectionsByUser(ctx context.Context, userId string) ([]types.Connection, error)

	PutMessage(ctx context.Context, msg types.Message) error
	GetMessage(ctx context.Context, roomId, messageId string) (types.Message, error)
	DeleteExpiredMessages(ctx context.Context, now time.Time) (int, error)
}

type RoomFilter struct {
	// Status matches rooms in the given status, any status when empty.
	Status types.RoomStatus
	// InactiveSince matches rooms whose lastActivity is strictly before it
	// (epoch millis). Zero disables the check.
	InactiveSince int64
	// Participant matches rooms listing the user as a participant.
	Participant string
	// Limit caps the number of rooms returned. Zero means no limit.
	Limit int
}

func (f RoomFilter) Match(r types.Room) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.InactiveSince != 0 && r.LastActivity >= f.InactiveSince {
		return false
	}
	if f.Participant != "" && !r.HasParticipant(f.Participant) {
		return false
	}
	return true
}

type RoomOp int

const (
	OpAddParticipant RoomOp = iota + 1
	OpRemoveParticipant
	OpTouch
	OpClose
)

func (op RoomOp) String() string {
	switch op {
	case OpAddParticipant:
		return "add-participant"
	case OpRemoveParticipant:
		return "remove-participant"
	case OpTouch:
		return "touch"
	case OpClose:
		return "close"
	default:
		return fmt.Sprintf("RoomOp(%d)", int(op))
	}
}

// RoomUpdate describes one of the mutations a room goes through during its
// lifetime. Backends either translate it into a conditional statement or run
// Apply inside a compare-and-swap loop.
type RoomUpdate struct {
	Op     RoomOp
	UserId string
	// Activity is the new lastActivity in epoch millis.
	Activity int64
}

func AddParticipant(userId string, at time.Time) RoomUpdate {
	return RoomUpdate{Op: OpAddParticipant, UserId: userId, Activity: types.Millis(at)}
}

func RemoveParticipant(userId string, at time.Time) RoomUpdate {
	return RoomUpdate{Op: OpRemoveParticipant, UserId: userId, Activity: types.Millis(at)}
}

func TouchRoom(at time.Time) RoomUpdate {
	return RoomUpdate{Op: OpTouch, Activity: types.Millis(at)}
}

func CloseRoom() RoomUpdate {
	return RoomUpdate{Op: OpClose}
}

// Apply mutates r in place. It reports whether r changed; an update that
// would leave r as it is returns false and no error.
func (u RoomUpdate) Apply(r *types.Room) (bool, error) {
	switch u.Op {
	case OpAddParticipant:
		if !r.IsActive() {
			return false, ErrRoomInactive
		}
		if r.HasParticipant(u.UserId) {
			return false, nil
		}
		if r.IsFull() {
			return false, ErrRoomFull
		}
		r.Participants = append(slices.Clone(r.Participants), u.UserId)
		r.LastActivity = u.Activity
		return true, nil
	case OpRemoveParticipant:
		if !r.IsActive() {
			return false, ErrRoomInactive
		}
		// the creator stays a participant of an active room
		if u.UserId == r.Creator || !r.HasParticipant(u.UserId) {
			return false, nil
		}
		r.Participants = slices.DeleteFunc(slices.Clone(r.Participants), func(id string) bool {
			return id == u.UserId
		})
		r.LastActivity = u.Activity
		return true, nil
	case OpTouch:
		if !r.IsActive() {
			return false, ErrRoomInactive
		}
		// activity never moves backwards
		r.LastActivity = max(r.LastActivity, u.Activity)
		return true, nil
	case OpClose:
		if !r.IsActive() {
			return false, nil
		}
		r.Status = types.RoomStatusClosed
		return true, nil
	default:
		return false, fmt.Errorf("unknown room update %s", u.Op)
	}
}
