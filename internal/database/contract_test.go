package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRepositoryContract exercises the behavior every ChatRepository backend
// shares. newRepo must return an empty repository.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) ChatRepository) {
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		repo := newRepo(t)
		assert.NoError(t, repo.Ping(ctx))
	})

	t.Run("get missing room", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetRoom(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put and get room", func(t *testing.T) {
		repo := newRepo(t)
		room := testRoom()
		require.NoError(t, repo.PutRoom(ctx, room))

		got, err := repo.GetRoom(ctx, room.Id)
		require.NoError(t, err)
		assert.Equal(t, room, got)

		room.RoadName = "5th Avenue"
		require.NoError(t, repo.PutRoom(ctx, room))
		got, err = repo.GetRoom(ctx, room.Id)
		require.NoError(t, err)
		assert.Equal(t, "5th Avenue", got.RoadName)
	})

	t.Run("update room", func(t *testing.T) {
		repo := newRepo(t)
		room := testRoom()
		require.NoError(t, repo.PutRoom(ctx, room))

		got, changed, err := repo.UpdateRoom(ctx, room.Id, AddParticipant("u2", time.UnixMilli(2000)))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, []string{"u1", "u2"}, got.Participants)
		assert.Equal(t, int64(2000), got.LastActivity)

		got, changed, err = repo.UpdateRoom(ctx, room.Id, AddParticipant("u2", time.UnixMilli(3000)))
		require.NoError(t, err)
		assert.False(t, changed, "expected rejoin to leave the room unchanged")
		assert.Equal(t, []string{"u1", "u2"}, got.Participants)
		assert.Equal(t, int64(2000), got.LastActivity)

		_, _, err = repo.UpdateRoom(ctx, room.Id, AddParticipant("u3", time.UnixMilli(3000)))
		assert.ErrorIs(t, err, ErrRoomFull)

		got, changed, err = repo.UpdateRoom(ctx, room.Id, RemoveParticipant("u1", time.UnixMilli(4000)))
		require.NoError(t, err)
		assert.False(t, changed, "expected creator to stay in the room")
		assert.Equal(t, []string{"u1", "u2"}, got.Participants)

		got, changed, err = repo.UpdateRoom(ctx, room.Id, RemoveParticipant("u2", time.UnixMilli(4000)))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, []string{"u1"}, got.Participants)
		assert.Equal(t, int64(4000), got.LastActivity)

		got, changed, err = repo.UpdateRoom(ctx, room.Id, TouchRoom(time.UnixMilli(5000)))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, int64(5000), got.LastActivity)

		got, changed, err = repo.UpdateRoom(ctx, room.Id, CloseRoom())
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, types.RoomStatusClosed, got.Status)

		_, changed, err = repo.UpdateRoom(ctx, room.Id, CloseRoom())
		require.NoError(t, err)
		assert.False(t, changed, "expected second close to be a no-op")

		_, _, err = repo.UpdateRoom(ctx, room.Id, AddParticipant("u4", time.UnixMilli(6000)))
		assert.ErrorIs(t, err, ErrRoomInactive)
		_, _, err = repo.UpdateRoom(ctx, room.Id, TouchRoom(time.UnixMilli(6000)))
		assert.ErrorIs(t, err, ErrRoomInactive)

		stored, err := repo.GetRoom(ctx, room.Id)
		require.NoError(t, err)
		assert.Equal(t, types.RoomStatusClosed, stored.Status)
		assert.Equal(t, []string{"u1"}, stored.Participants)
		assert.Equal(t, int64(5000), stored.LastActivity)
	})

	t.Run("update missing room", func(t *testing.T) {
		repo := newRepo(t)
		_, _, err := repo.UpdateRoom(ctx, "missing", AddParticipant("u1", time.Now()))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent joins respect capacity", func(t *testing.T) {
		repo := newRepo(t)
		room := testRoom()
		room.MaxParticipants = 5
		require.NoError(t, repo.PutRoom(ctx, room))

		const joiners = 12
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			joined  int
			full    int
			unknown []error
		)
		for i := 0; i < joiners; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, err := repo.UpdateRoom(ctx, room.Id, AddParticipant(fmt.Sprintf("user-%d", i), time.Now()))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					joined++
				case errors.Is(err, ErrRoomFull):
					full++
				default:
					unknown = append(unknown, err)
				}
			}(i)
		}
		wg.Wait()

		assert.Empty(t, unknown)
		assert.Equal(t, 4, joined)
		assert.Equal(t, joiners-4, full)

		got, err := repo.GetRoom(ctx, room.Id)
		require.NoError(t, err)
		assert.Len(t, got.Participants, 5)
		assert.Equal(t, "u1", got.Participants[0])
	})

	t.Run("scan rooms", func(t *testing.T) {
		repo := newRepo(t)

		active := testRoom()
		active.Id = "active"
		active.LastActivity = 100

		idle := testRoom()
		idle.Id = "idle"
		idle.LastActivity = 10
		idle.Participants = []string{"u1", "u2"}

		closed := testRoom()
		closed.Id = "closed"
		closed.LastActivity = 10
		closed.Status = types.RoomStatusClosed

		for _, r := range []types.Room{active, idle, closed} {
			require.NoError(t, repo.PutRoom(ctx, r))
		}

		tcases := []struct {
			name   string
			filter RoomFilter
			want   []string
		}{
			{name: "all", filter: RoomFilter{}, want: []string{"active", "idle", "closed"}},
			{name: "active", filter: RoomFilter{Status: types.RoomStatusActive}, want: []string{"active", "idle"}},
			{name: "closed", filter: RoomFilter{Status: types.RoomStatusClosed}, want: []string{"closed"}},
			{
				name:   "active and idle",
				filter: RoomFilter{Status: types.RoomStatusActive, InactiveSince: 50},
				want:   []string{"idle"},
			},
			{
				name:   "active with participant",
				filter: RoomFilter{Status: types.RoomStatusActive, Participant: "u2"},
				want:   []string{"idle"},
			},
			{name: "no match", filter: RoomFilter{Participant: "nobody"}, want: []string{}},
		}

		for _, tc := range tcases {
			t.Run(tc.name, func(t *testing.T) {
				rooms, err := repo.ScanRooms(ctx, tc.filter)
				require.NoError(t, err)
				assert.NotNil(t, rooms)

				ids := make([]string, 0, len(rooms))
				for _, r := range rooms {
					ids = append(ids, r.Id)
				}
				assert.ElementsMatch(t, tc.want, ids)
			})
		}

		rooms, err := repo.ScanRooms(ctx, RoomFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, rooms, 2)
	})

	t.Run("connections", func(t *testing.T) {
		repo := newRepo(t)

		c1 := types.Connection{ConnectionId: "c1", UserId: "u1", ConnectedAt: 1}
		c2 := types.Connection{ConnectionId: "c2", UserId: "u1", ConnectedAt: 2, InstanceId: "node-b"}
		c3 := types.Connection{ConnectionId: "c3", UserId: "u2", ConnectedAt: 3}
		for _, c := range []types.Connection{c1, c2, c3} {
			require.NoError(t, repo.PutConnection(ctx, c))
		}

		got, err := repo.GetConnection(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, c1, got)

		conns, err := repo.ConnectionsByUser(ctx, "u1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []types.Connection{c1, c2}, conns)

		c1.RoomId = "room-1"
		require.NoError(t, repo.PutConnection(ctx, c1))
		got, err = repo.GetConnection(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "room-1", got.RoomId)

		require.NoError(t, repo.DeleteConnection(ctx, "c1"))
		_, err = repo.GetConnection(ctx, "c1")
		assert.ErrorIs(t, err, ErrNotFound)

		conns, err = repo.ConnectionsByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []types.Connection{c2}, conns)

		assert.NoError(t, repo.DeleteConnection(ctx, "c1"), "expected deleting a missing connection to succeed")

		conns, err = repo.ConnectionsByUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, conns)
	})

	t.Run("messages", func(t *testing.T) {
		repo := newRepo(t)
		now := time.Now().UTC().Truncate(time.Millisecond)

		msg := types.Message{
			RoomId:    "room-1",
			Id:        "m1",
			Text:      "hello",
			CreatedAt: now,
			UserId:    "u1",
			UserName:  "Alice",
			UserIcon:  "car",
			UserColor: "#ff0000",
			ExpiresAt: now.Add(time.Hour).Unix(),
		}
		require.NoError(t, repo.PutMessage(ctx, msg))

		got, err := repo.GetMessage(ctx, "room-1", "m1")
		require.NoError(t, err)
		assert.Equal(t, msg.Text, got.Text)
		assert.Equal(t, msg.UserName, got.UserName)
		assert.True(t, msg.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, msg.ExpiresAt, got.ExpiresAt)

		dup := msg
		dup.Text = "hello again"
		assert.ErrorIs(t, repo.PutMessage(ctx, dup), ErrDuplicateMessage)

		got, err = repo.GetMessage(ctx, "room-1", "m1")
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Text, "expected duplicate to leave the original message")

		other := msg
		other.RoomId = "room-2"
		assert.NoError(t, repo.PutMessage(ctx, other), "expected message ids to be scoped per room")

		_, err = repo.GetMessage(ctx, "room-1", "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		expired := msg
		expired.Id = "m2"
		expired.ExpiresAt = now.Add(-time.Minute).Unix()
		require.NoError(t, repo.PutMessage(ctx, expired))
		_, err = repo.GetMessage(ctx, "room-1", "m2")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.DeleteExpiredMessages(ctx, now)
		require.NoError(t, err)
		_, err = repo.GetMessage(ctx, "room-1", "m1")
		assert.NoError(t, err, "expected live message to survive eviction")
	})
}
