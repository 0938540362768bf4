package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/jam-chat/internal/chat"
	"github.com/npezzotti/jam-chat/internal/database"
	"github.com/npezzotti/jam-chat/internal/server"
	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
)

type CreateRoomRequest struct {
	UserId          string   `json:"userId" validate:"required"`
	Latitude        *float64 `json:"latitude" validate:"required,latitude"`
	Longitude       *float64 `json:"longitude" validate:"required,longitude"`
	RoadName        string   `json:"roadName"`
	RoomType        string   `json:"roomType" validate:"omitempty,oneof=public private"`
	MaxParticipants int      `json:"maxParticipants"`
}

type CreateRoomResponse struct {
	RoomId   string     `json:"roomId"`
	RoomInfo types.Room `json:"roomInfo"`
}

type SearchRoomsRequest struct {
	Latitude  float64 `validate:"latitude"`
	Longitude float64 `validate:"longitude"`
	RoomType  string  `validate:"omitempty,oneof=public private"`
	RoadName  string
}

type RoomMemberRequest struct {
	RoomId string `json:"roomId" validate:"required"`
	UserId string `json:"userId" validate:"required"`
}

type JoinRoomResponse struct {
	Success   bool       `json:"success"`
	RoomInfo  types.Room `json:"roomInfo"`
	CreatorId string     `json:"creatorId"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(fld.Name[:1]) + fld.Name[1:]
		}
		return name
	})
	return v
}

// validationMessage renders validator failures as "field is required" or
// "field is invalid" phrases.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			msgs = append(msgs, fe.Field()+" is required")
		} else {
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}

	return strings.Join(msgs, ", ")
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("json encode")
	}
}

func (s *App) writeError(w http.ResponseWriter, r *http.Request, errResp *ApiError) {
	entry := s.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": errResp.StatusCode,
	})
	if errResp.StatusCode >= http.StatusInternalServerError {
		entry.WithError(errResp).Error("request failed")
	} else {
		entry.Debug(errResp.Error())
	}

	s.writeJson(w, errResp.StatusCode, errResp)
}

// decode reads a JSON body into v and validates it.
func (s *App) decode(r *http.Request, v any) *ApiError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewBadRequestError("Invalid request body")
	}

	if err := s.validate.Struct(v); err != nil {
		return NewBadRequestError(validationMessage(err))
	}

	return nil
}

func (s *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.writeError(w, r, NewInternalServerError("Store unavailable", err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *App) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if errResp := s.decode(r, &req); errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	room, err := s.svc.CreateRoom(r.Context(), chat.CreateRoomParams{
		UserId:          req.UserId,
		Latitude:        *req.Latitude,
		Longitude:       *req.Longitude,
		RoadName:        req.RoadName,
		RoomType:        types.RoomType(req.RoomType),
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		s.writeError(w, r, toApiError("Failed to create room", err))
		return
	}

	s.writeJson(w, http.StatusOK, CreateRoomResponse{
		RoomId:   room.Id,
		RoomInfo: room,
	})
}

func (s *App) searchRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("latitude") == "" || q.Get("longitude") == "" {
		s.writeError(w, r, NewBadRequestError("Missing coordinates"))
		return
	}

	lat, latErr := strconv.ParseFloat(q.Get("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("longitude"), 64)
	if latErr != nil || lonErr != nil {
		s.writeError(w, r, NewBadRequestError("Invalid coordinates"))
		return
	}

	req := SearchRoomsRequest{
		Latitude:  lat,
		Longitude: lon,
		RoomType:  q.Get("roomType"),
		RoadName:  q.Get("roadName"),
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, NewBadRequestError(validationMessage(err)))
		return
	}

	rooms, err := s.svc.SearchRooms(r.Context(), chat.SearchParams{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		RoomType:  types.RoomType(req.RoomType),
		RoadName:  req.RoadName,
	})
	if err != nil {
		s.writeError(w, r, toApiError("Failed to search rooms", err))
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *App) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomMemberRequest
	if errResp := s.decode(r, &req); errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	room, err := s.svc.JoinRoom(r.Context(), req.RoomId, req.UserId)
	if err != nil {
		s.writeError(w, r, toApiError("Failed to join room", err))
		return
	}

	s.writeJson(w, http.StatusOK, JoinRoomResponse{
		Success:   true,
		RoomInfo:  room,
		CreatorId: room.Creator,
	})
}

func (s *App) closeRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomMemberRequest
	if errResp := s.decode(r, &req); errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	if err := s.svc.CloseRoom(r.Context(), req.RoomId, req.UserId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, r, NewNotFoundError("Room not found"))
			return
		}
		s.writeError(w, r, toApiError("Failed to close room", err))
		return
	}

	s.writeJson(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *App) generateShortId() (string, error) {
	return shortid.Generate()
}

func (s *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

// serveWs records the connection before upgrading so that a store failure
// can still be reported as a plain HTTP error.
func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	userId := r.URL.Query().Get("userId")
	if userId == "" {
		s.writeError(w, r, NewBadRequestError("Missing userId"))
		return
	}

	connectionId, err := s.generateShortId()
	if err != nil {
		s.writeError(w, r, NewInternalServerError("Failed to connect", err))
		return
	}

	if err := s.svc.Connect(r.Context(), connectionId, userId); err != nil {
		s.writeError(w, r, NewInternalServerError("Failed to connect", err))
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).WithField("connection_id", connectionId).Warn("error upgrading connection")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.svc.Disconnect(ctx, connectionId); err != nil {
			s.log.WithError(err).Errorf("failed to forget connection %q", connectionId)
		}
		return
	}

	client := server.NewClient(connectionId, userId, conn, s.hub, s.handler, s.log)
	s.hub.Register(client)
	go client.Write()
	go client.Read()
}
