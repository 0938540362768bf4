package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	TypeReapRooms = "rooms:reap"
	reaperQueue   = "reaper"
)

// ProcessTask runs a sweep for a TypeReapRooms task.
func (r *Reaper) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeReapRooms {
		return fmt.Errorf("unexpected task type %q: %w", t.Type(), asynq.SkipRetry)
	}

	_, err := r.Sweep(ctx)
	return err
}

// Distributed runs the sweep through asynq so that a fleet of servers
// sharing one redis performs a single sweep per interval.
type Distributed struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	reaper    *Reaper
	interval  time.Duration
	log       *logrus.Entry
}

func NewDistributed(redisOpt asynq.RedisConnOpt, r *Reaper, interval time.Duration, logger *logrus.Logger) *Distributed {
	if interval <= 0 {
		interval = DefaultInterval
	}

	log := logger.WithField("component", "reaper")

	return &Distributed{
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Logger:   logger,
			LogLevel: asynq.WarnLevel,
		}),
		server: asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{reaperQueue: 1},
			Logger:      logger,
			LogLevel:    asynq.WarnLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.WithField("task_type", task.Type()).Errorf("task failed: %v", err)
			}),
		}),
		reaper:   r,
		interval: interval,
		log:      log,
	}
}

// Start registers the periodic task and starts the scheduler and worker.
func (d *Distributed) Start() error {
	task := asynq.NewTask(TypeReapRooms, nil)
	entryID, err := d.scheduler.Register(
		"@every "+d.interval.String(),
		task,
		asynq.Queue(reaperQueue),
		asynq.MaxRetry(0),
		asynq.Unique(d.interval),
	)
	if err != nil {
		return fmt.Errorf("register reaper task: %w", err)
	}
	d.log.Infof("reaper task registered every %s (entry %s)", d.interval, entryID)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReapRooms, d.reaper.ProcessTask)

	if err := d.server.Start(mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return fmt.Errorf("start reaper worker: %w", err)
	}

	if err := d.scheduler.Start(); err != nil {
		d.server.Shutdown()
		return fmt.Errorf("start reaper scheduler: %w", err)
	}

	return nil
}

func (d *Distributed) Shutdown() {
	d.log.Info("shutting down reaper")
	d.scheduler.Shutdown()
	d.server.Shutdown()
}
