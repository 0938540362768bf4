package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/jam-chat/internal/chat"
	"github.com/npezzotti/jam-chat/internal/config"
	"github.com/npezzotti/jam-chat/internal/server"
	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const limiterTTL = 2 * time.Minute

// ChatService is the room API served over HTTP.
type ChatService interface {
	Ping(ctx context.Context) error
	CreateRoom(ctx context.Context, params chat.CreateRoomParams) (types.Room, error)
	SearchRooms(ctx context.Context, params chat.SearchParams) ([]types.Room, error)
	JoinRoom(ctx context.Context, roomId, userId string) (types.Room, error)
	CloseRoom(ctx context.Context, roomId, userId string) error
	Connect(ctx context.Context, connectionId, userId string) error
	Disconnect(ctx context.Context, connectionId string) error
}

// HandlerInstrumenter wraps handlers to record request metrics.
type HandlerInstrumenter interface {
	InstrumentHandler(next http.Handler) http.Handler
}

type App struct {
	log            *logrus.Logger
	svc            ChatService
	hub            *server.Hub
	handler        server.Handler
	srv            *http.Server
	accessLog      *io.PipeWriter
	limiter        *rateLimiter
	validate       *validator.Validate
	allowedOrigins []string
}

// NewApp registers the API routes on mux. When instr is non-nil every
// request is counted by it.
func NewApp(mux *http.ServeMux, logger *logrus.Logger, svc ChatService, hub *server.Hub, router server.Handler, instr HandlerInstrumenter, cfg *config.Config) *App {
	s := &App{
		log:            logger,
		svc:            svc,
		hub:            hub,
		handler:        router,
		accessLog:      logger.Writer(),
		limiter:        newRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst, limiterTTL),
		validate:       newValidator(),
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /create-room", s.createRoom)
	mux.HandleFunc("GET /search-rooms", s.searchRooms)
	mux.HandleFunc("POST /join-room", s.joinRoom)
	mux.HandleFunc("POST /close-room", s.closeRoom)
	mux.HandleFunc("GET /ws", s.serveWs)

	var h http.Handler = mux
	if instr != nil {
		h = instr.InstrumentHandler(h)
	}
	h = s.rateLimit(h)
	h = handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(h)
	h = handlers.CombinedLoggingHandler(s.accessLog, h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.limiter.gc(time.Minute)

	return s
}

func (s *App) Handler() http.Handler {
	return s.srv.Handler
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting requests, then closes every websocket client and
// waits for their cleanup.
func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	defer s.accessLog.Close()
	defer s.limiter.Stop()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		return fmt.Errorf("hub shutdown: %w", err)
	}

	return nil
}
