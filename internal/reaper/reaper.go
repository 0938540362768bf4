package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/npezzotti/jam-chat/internal/chat"
	"github.com/npezzotti/jam-chat/internal/database"
	"github.com/npezzotti/jam-chat/internal/stats"
	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultInactivity = 30 * time.Minute
	DefaultInterval   = 5 * time.Minute
	DefaultBatchSize  = 100
)

type Options struct {
	// Inactivity is how long a room may go without activity before it is
	// closed.
	Inactivity time.Duration
	// BatchSize bounds the rooms closed by a single sweep. The rest are
	// picked up on the next tick.
	BatchSize int
}

// Reaper closes rooms that have been idle for too long and evicts expired
// messages from backends that do not expire them natively.
type Reaper struct {
	repo  database.ChatRepository
	bc    chat.Broadcaster
	opts  Options
	log   *logrus.Logger
	stats stats.StatsProvider
	now   func() time.Time
}

func New(repo database.ChatRepository, bc chat.Broadcaster, opts Options, logger *logrus.Logger, st stats.StatsProvider) *Reaper {
	if opts.Inactivity <= 0 {
		opts.Inactivity = DefaultInactivity
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	st.RegisterMetric(stats.RoomsReaped)

	return &Reaper{
		repo:  repo,
		bc:    bc,
		opts:  opts,
		log:   logger,
		stats: st,
		now:   types.Now,
	}
}

// Sweep closes every idle active room, up to the batch size, and returns how
// many rooms it closed. Running it again right away closes nothing.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.opts.Inactivity)

	rooms, err := r.repo.ScanRooms(ctx, database.RoomFilter{
		Status:        types.RoomStatusActive,
		InactiveSince: types.Millis(cutoff),
		Limit:         r.opts.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("scan idle rooms: %w", err)
	}

	var closed int
	for _, room := range rooms {
		updated, changed, err := r.repo.UpdateRoom(ctx, room.Id, database.CloseRoom())
		if err != nil {
			r.log.WithField("room_id", room.Id).Errorf("close idle room: %s", err)
			continue
		}
		if !changed {
			continue
		}

		r.bc.Broadcast(ctx, updated, chat.RoomClosedEvent())
		r.stats.Incr(stats.RoomsReaped)
		closed++
	}

	evicted, err := r.repo.DeleteExpiredMessages(ctx, now)
	if err != nil {
		r.log.Errorf("evict expired messages: %s", err)
	}

	r.log.WithFields(logrus.Fields{
		"rooms_closed":     closed,
		"messages_evicted": evicted,
	}).Info("reaper sweep finished")

	return closed, nil
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Printf("reaper running every %s", interval)
	for {
		select {
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Errorf("reaper sweep: %s", err)
			}
		case <-ctx.Done():
			r.log.Println("reaper stopped")
			return
		}
	}
}
