package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/npezzotti/jam-chat/internal/api"
	"github.com/npezzotti/jam-chat/internal/chat"
	"github.com/npezzotti/jam-chat/internal/config"
	"github.com/npezzotti/jam-chat/internal/database"
	"github.com/npezzotti/jam-chat/internal/dispatch"
	"github.com/npezzotti/jam-chat/internal/reaper"
	"github.com/npezzotti/jam-chat/internal/server"
	"github.com/npezzotti/jam-chat/internal/stats"
	"github.com/sirupsen/logrus"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, config.SplitList(value)...)
	return nil
}

var (
	envFile        string
	addr           string
	store          string
	dsn            string
	redisAddr      string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&envFile, "env-file", ".env", "file to load environment variables from")
	flag.StringVar(&addr, "addr", "", "server address")
	flag.StringVar(&store, "store", "", "store backend: memory, postgres or redis")
	flag.StringVar(&dsn, "dsn", "", "postgres connection string")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load(envFile)
	if err != nil {
		logger.Fatal("config: ", err)
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config: ", err)
	}
	configureLogger(logger, cfg)

	if cfg.InstanceId == "" {
		cfg.InstanceId = uuid.NewString()
	}
	logger.WithField("instance_id", cfg.InstanceId).Info("starting")

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if cfg.Store != config.StoreRedis {
			defer redisClient.Close()
		}
	}

	repo, err := openStore(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("store: ", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("store close: ", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	hub := server.NewHub(cfg.InstanceId, logger, statsUpdater)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	if redisClient != nil {
		relay := server.NewRedisRelay(redisClient, cfg.RedisKeyPrefix, logger)
		hub.UseRelay(relay)
		go func() {
			if err := relay.Run(relayCtx, hub, nil); err != nil {
				logger.Error("relay: ", err)
			}
		}()
	}

	dispatcher := dispatch.NewDispatcher(repo, hub, logger, statsUpdater)
	svc := chat.NewService(repo, dispatcher, chat.Settings{
		RoomRadius:      cfg.RoomRadius,
		MaxParticipants: cfg.MaxParticipants,
		MessageTTL:      cfg.MessageTTL,
		InstanceId:      cfg.InstanceId,
	}, logger, statsUpdater)

	srv := api.NewApp(mux, logger, svc, hub, server.NewRouter(svc, logger), statsUpdater, cfg)

	sweeper := reaper.New(repo, dispatcher, reaper.Options{
		Inactivity: cfg.InactivityTimeout,
		BatchSize:  cfg.ReaperBatchSize,
	}, logger, statsUpdater)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()

	var distributed *reaper.Distributed
	if redisClient != nil {
		distributed = reaper.NewDistributed(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, sweeper, cfg.ReaperInterval, logger)
		if err := distributed.Start(); err != nil {
			logger.Fatal("reaper: ", err)
		}
	} else {
		go sweeper.Run(reaperCtx, cfg.ReaperInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s", sig)
	case err := <-errCh:
		logger.Error("server: ", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	stopReaper()
	if distributed != nil {
		distributed.Shutdown()
	}

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error("HTTP server shutdown: ", err)
	}
	stopRelay()

	logger.Println("shutdown complete")
}

// applyFlags overrides configuration with the flags given on the command
// line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ServerAddr = addr
		case "store":
			cfg.Store = strings.ToLower(store)
		case "dsn":
			cfg.DatabaseDSN = dsn
		case "redis-addr":
			cfg.RedisAddr = redisAddr
		case "allowed-origins":
			cfg.AllowedOrigins = allowedOrigins
		}
	})
}

func configureLogger(logger *logrus.Logger, cfg *config.Config) {
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func openStore(cfg *config.Config, redisClient *redis.Client, logger *logrus.Logger) (database.ChatRepository, error) {
	switch cfg.Store {
	case config.StorePostgres:
		if err := database.Migrate(cfg.DatabaseDSN); err != nil {
			return nil, err
		}
		logger.Println("database migrations applied")
		repo, err := database.NewPgChatRepository(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.StoreRedis:
		return database.NewRedisChatRepository(redisClient, cfg.RedisKeyPrefix, logger), nil
	case config.StoreMemory:
		logger.Warn("using the in-memory store, state is lost on restart")
		return database.NewMemoryChatRepository(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
