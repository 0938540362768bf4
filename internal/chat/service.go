package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/jam-chat/internal/database"
	"github.com/npezzotti/jam-chat/internal/geo"
	"github.com/npezzotti/jam-chat/internal/stats"
	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRoomRadius      = 500.0
	DefaultMaxParticipants = 20
	DefaultMessageTTL      = 30 * 24 * time.Hour
)

// Broadcaster fans events out to the live connections of a room.
type Broadcaster interface {
	SendToRoom(ctx context.Context, roomId string, payload any)
	Broadcast(ctx context.Context, room types.Room, payload any)
}

type Settings struct {
	// RoomRadius is the search radius in meters given to new rooms.
	RoomRadius float64
	// MaxParticipants is the upper bound of a room's capacity.
	MaxParticipants int
	MessageTTL      time.Duration
	// InstanceId is stamped on every connection registered by this process.
	InstanceId string
}

func DefaultSettings() Settings {
	return Settings{
		RoomRadius:      DefaultRoomRadius,
		MaxParticipants: DefaultMaxParticipants,
		MessageTTL:      DefaultMessageTTL,
	}
}

// Service implements the room operations shared by the HTTP API and the
// realtime router. It holds no room state of its own.
type Service struct {
	repo     database.ChatRepository
	bc       Broadcaster
	settings Settings
	log      *logrus.Logger
	stats    stats.StatsProvider
	now      func() time.Time
}

func NewService(repo database.ChatRepository, bc Broadcaster, settings Settings, logger *logrus.Logger, st stats.StatsProvider) *Service {
	st.RegisterMetric(stats.RoomsCreated)
	st.RegisterMetric(stats.RoomsClosed)
	st.RegisterMetric(stats.MessagesSent)

	return &Service{
		repo:     repo,
		bc:       bc,
		settings: settings,
		log:      logger,
		stats:    st,
		now:      types.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

type CreateRoomParams struct {
	UserId          string
	Latitude        float64
	Longitude       float64
	RoadName        string
	RoomType        types.RoomType
	MaxParticipants int
}

func (s *Service) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	if strings.TrimSpace(params.UserId) == "" {
		return types.Room{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if err := validateCoordinates(params.Latitude, params.Longitude); err != nil {
		return types.Room{}, err
	}

	roomType, err := parseRoomType(params.RoomType)
	if err != nil {
		return types.Room{}, err
	}

	room := types.Room{
		Id: uuid.NewString(),
		Location: types.Location{
			Latitude:  params.Latitude,
			Longitude: params.Longitude,
		},
		Radius:          s.settings.RoomRadius,
		RoadName:        params.RoadName,
		Creator:         params.UserId,
		Participants:    []string{params.UserId},
		MaxParticipants: s.capacity(params.MaxParticipants),
		LastActivity:    types.Millis(s.now()),
		Status:          types.RoomStatusActive,
		RoomType:        roomType,
	}

	if err := s.repo.PutRoom(ctx, room); err != nil {
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}

	s.stats.Incr(stats.RoomsCreated)
	s.log.WithFields(logrus.Fields{
		"room_id": room.Id,
		"user_id": room.Creator,
	}).Info("room created")

	return room, nil
}

// capacity clamps a requested capacity to [1, MaxParticipants]. Zero asks
// for the maximum.
func (s *Service) capacity(requested int) int {
	if requested == 0 {
		return s.settings.MaxParticipants
	}
	return min(max(requested, 1), s.settings.MaxParticipants)
}

type SearchParams struct {
	Latitude  float64
	Longitude float64
	RoomType  types.RoomType
	// RoadName is accepted for compatibility and does not filter.
	RoadName string
}

// SearchRooms returns the active rooms with free seats whose radius covers
// the query point, nearest first.
func (s *Service) SearchRooms(ctx context.Context, params SearchParams) ([]types.Room, error) {
	if err := validateCoordinates(params.Latitude, params.Longitude); err != nil {
		return nil, err
	}

	rooms, err := s.repo.ScanRooms(ctx, database.RoomFilter{Status: types.RoomStatusActive})
	if err != nil {
		return nil, fmt.Errorf("search rooms: %w", err)
	}

	type hit struct {
		room     types.Room
		distance float64
	}

	hits := make([]hit, 0, len(rooms))
	for _, room := range rooms {
		if room.IsFull() {
			continue
		}
		if params.RoomType != "" && room.RoomType != params.RoomType {
			continue
		}

		d := geo.Distance(params.Latitude, params.Longitude, room.Location.Latitude, room.Location.Longitude)
		if d > room.Radius {
			continue
		}
		hits = append(hits, hit{room: room, distance: d})
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		return cmp.Compare(a.distance, b.distance)
	})

	result := make([]types.Room, len(hits))
	for i, h := range hits {
		result[i] = h.room
	}

	return result, nil
}

// JoinRoom adds userId to the room. Joining a room the user is already in
// succeeds without changing it.
func (s *Service) JoinRoom(ctx context.Context, roomId, userId string) (types.Room, error) {
	if roomId == "" || userId == "" {
		return types.Room{}, fmt.Errorf("%w: roomId and userId are required", ErrInvalidInput)
	}

	room, _, err := s.repo.UpdateRoom(ctx, roomId, database.AddParticipant(userId, s.now()))
	if err != nil {
		return types.Room{}, err
	}

	return room, nil
}

// JoinRoomRealtime joins the user owning connectionId to the room, attaches
// the connection to it and announces the user to the room.
func (s *Service) JoinRoomRealtime(ctx context.Context, connectionId, roomId string, profile types.Profile) (types.Room, error) {
	conn, err := s.connection(ctx, connectionId)
	if err != nil {
		return types.Room{}, err
	}

	room, err := s.JoinRoom(ctx, roomId, conn.UserId)
	if err != nil {
		return types.Room{}, err
	}

	if conn.RoomId != roomId {
		conn.RoomId = roomId
		if err := s.repo.PutConnection(ctx, conn); err != nil {
			return types.Room{}, fmt.Errorf("attach connection: %w", err)
		}
	}

	s.bc.SendToRoom(ctx, roomId, UserJoinedEvent(conn.UserId, profile, room))

	return room, nil
}

type SendMessageParams struct {
	RoomId    string
	MessageId string
	Text      string
	Profile   types.Profile
}

// SendMessage persists the message and broadcasts it. A message id already
// stored for the room is ignored.
func (s *Service) SendMessage(ctx context.Context, connectionId string, params SendMessageParams) error {
	if params.RoomId == "" || params.MessageId == "" || params.Text == "" {
		return fmt.Errorf("%w: roomId, messageId and message are required", ErrInvalidInput)
	}

	conn, err := s.connection(ctx, connectionId)
	if err != nil {
		return err
	}

	room, err := s.repo.GetRoom(ctx, params.RoomId)
	if err != nil {
		return err
	}
	if !room.IsActive() {
		return fmt.Errorf("room %q: %w", room.Id, database.ErrRoomInactive)
	}

	now := s.now()
	msg := types.Message{
		RoomId:    params.RoomId,
		Id:        params.MessageId,
		Text:      params.Text,
		CreatedAt: now,
		UserId:    conn.UserId,
		UserName:  params.Profile.UserName,
		UserIcon:  params.Profile.UserIcon,
		UserColor: params.Profile.UserColor,
		ExpiresAt: now.Add(s.settings.MessageTTL).Unix(),
	}

	if err := s.repo.PutMessage(ctx, msg); err != nil {
		if errors.Is(err, database.ErrDuplicateMessage) {
			s.log.WithFields(logrus.Fields{
				"room_id":    msg.RoomId,
				"message_id": msg.Id,
			}).Debug("ignoring duplicate message")
			return nil
		}
		return fmt.Errorf("store message: %w", err)
	}

	// the room may have closed since it was read
	if _, _, err := s.repo.UpdateRoom(ctx, params.RoomId, database.TouchRoom(now)); err != nil {
		return err
	}

	s.bc.SendToRoom(ctx, params.RoomId, NewMessageEvent(msg))
	s.stats.Incr(stats.MessagesSent)

	return nil
}

// Typing relays a typing indicator. Nothing is stored.
func (s *Service) Typing(ctx context.Context, connectionId, roomId, userName string) error {
	if roomId == "" {
		return fmt.Errorf("%w: roomId is required", ErrInvalidInput)
	}

	conn, err := s.connection(ctx, connectionId)
	if err != nil {
		return err
	}

	s.bc.SendToRoom(ctx, roomId, UserTypingEvent(conn.UserId, userName))
	return nil
}

// RoomInfo sends the current room record to everyone in the room.
func (s *Service) RoomInfo(ctx context.Context, connectionId, roomId string) error {
	if roomId == "" {
		return fmt.Errorf("%w: roomId is required", ErrInvalidInput)
	}

	if _, err := s.connection(ctx, connectionId); err != nil {
		return err
	}

	room, err := s.repo.GetRoom(ctx, roomId)
	if err != nil {
		return err
	}

	s.bc.SendToRoom(ctx, roomId, RoomInfoEvent(room))
	return nil
}

// CloseRoom closes the room on behalf of its creator. Only the call that
// actually closes the room broadcasts room-closed.
func (s *Service) CloseRoom(ctx context.Context, roomId, userId string) error {
	if roomId == "" || userId == "" {
		return fmt.Errorf("%w: roomId and userId are required", ErrInvalidInput)
	}

	room, err := s.repo.GetRoom(ctx, roomId)
	if err != nil {
		return err
	}

	if room.Creator != userId {
		return fmt.Errorf("%w: only the creator can close room %q", ErrForbidden, roomId)
	}

	closed, changed, err := s.repo.UpdateRoom(ctx, roomId, database.CloseRoom())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.bc.Broadcast(ctx, closed, RoomClosedEvent())
	s.stats.Incr(stats.RoomsClosed)
	s.log.WithFields(logrus.Fields{
		"room_id": roomId,
		"user_id": userId,
	}).Info("room closed by creator")

	return nil
}

// CloseRoomRealtime closes the room on behalf of the user owning
// connectionId.
func (s *Service) CloseRoomRealtime(ctx context.Context, connectionId, roomId string) error {
	conn, err := s.connection(ctx, connectionId)
	if err != nil {
		return err
	}

	return s.CloseRoom(ctx, roomId, conn.UserId)
}

// Connect registers a transport connection for userId.
func (s *Service) Connect(ctx context.Context, connectionId, userId string) error {
	if connectionId == "" || userId == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}

	err := s.repo.PutConnection(ctx, types.Connection{
		ConnectionId: connectionId,
		UserId:       userId,
		ConnectedAt:  types.Millis(s.now()),
		InstanceId:   s.settings.InstanceId,
	})
	if err != nil {
		return fmt.Errorf("register connection: %w", err)
	}

	return nil
}

// Disconnect removes the user owning connectionId from every active room
// they are in and forgets the connection. Membership belongs to the user,
// so this happens even when the user has other live connections.
func (s *Service) Disconnect(ctx context.Context, connectionId string) error {
	conn, err := s.repo.GetConnection(ctx, connectionId)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	rooms, err := s.repo.ScanRooms(ctx, database.RoomFilter{
		Status:      types.RoomStatusActive,
		Participant: conn.UserId,
	})
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	for _, room := range rooms {
		log := s.log.WithFields(logrus.Fields{
			"room_id":       room.Id,
			"user_id":       conn.UserId,
			"connection_id": connectionId,
		})

		updated, changed, err := s.repo.UpdateRoom(ctx, room.Id, database.RemoveParticipant(conn.UserId, s.now()))
		if err != nil {
			if !errors.Is(err, database.ErrRoomInactive) {
				log.Errorf("leave room: %s", err)
			}
			continue
		}
		if !changed {
			continue
		}

		log.Debug("user left room")
		s.bc.SendToRoom(ctx, room.Id, UserLeftEvent(conn.UserId, updated))
	}

	if err := s.repo.DeleteConnection(ctx, connectionId); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	return nil
}

func (s *Service) connection(ctx context.Context, connectionId string) (types.Connection, error) {
	conn, err := s.repo.GetConnection(ctx, connectionId)
	if errors.Is(err, database.ErrNotFound) {
		return types.Connection{}, fmt.Errorf("%w: %q", ErrUnknownConnection, connectionId)
	}
	if err != nil {
		return types.Connection{}, fmt.Errorf("load connection: %w", err)
	}

	return conn, nil
}

func validateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidInput, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidInput, lon)
	}
	return nil
}

func parseRoomType(rt types.RoomType) (types.RoomType, error) {
	switch rt {
	case "":
		return types.RoomTypePublic, nil
	case types.RoomTypePublic, types.RoomTypePrivate:
		return rt, nil
	default:
		return "", fmt.Errorf("%w: unknown room type %q", ErrInvalidInput, rt)
	}
}
