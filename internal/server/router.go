package server

import (
	"context"
	"encoding/json"

	"github.com/npezzotti/jam-chat/internal/chat"
	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/sirupsen/logrus"
)

// RoomService is the subset of the chat service driven by realtime frames.
type RoomService interface {
	JoinRoomRealtime(ctx context.Context, connectionId, roomId string, profile types.Profile) (types.Room, error)
	SendMessage(ctx context.Context, connectionId string, params chat.SendMessageParams) error
	Typing(ctx context.Context, connectionId, roomId, userName string) error
	RoomInfo(ctx context.Context, connectionId, roomId string) error
	CloseRoomRealtime(ctx context.Context, connectionId, roomId string) error
	Disconnect(ctx context.Context, connectionId string) error
}

// Router decodes client frames and routes them to the chat service by
// action.
type Router struct {
	svc RoomService
	log *logrus.Logger
}

func NewRouter(svc RoomService, logger *logrus.Logger) *Router {
	return &Router{svc: svc, log: logger}
}

// Handle processes one frame and returns the error frame to send back to
// the caller, if any. Undecodable frames and typing failures are dropped.
func (r *Router) Handle(ctx context.Context, connectionId string, raw []byte) *ErrorFrame {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.WithError(err).WithField("connection_id", connectionId).Debug("dropping malformed frame")
		return nil
	}

	log := r.log.WithFields(logrus.Fields{
		"connection_id": connectionId,
		"action":        msg.Action,
		"room_id":       msg.RoomId,
	})

	var err error
	switch msg.Action {
	case ActionJoinRoom:
		_, err = r.svc.JoinRoomRealtime(ctx, connectionId, msg.RoomId, msg.Profile())
	case ActionSendMessage:
		err = r.svc.SendMessage(ctx, connectionId, chat.SendMessageParams{
			RoomId:    msg.RoomId,
			MessageId: msg.MessageId,
			Text:      msg.Message,
			Profile:   msg.Profile(),
		})
	case ActionUserTyping:
		if err := r.svc.Typing(ctx, connectionId, msg.RoomId, msg.UserName); err != nil {
			log.WithError(err).Debug("typing notification dropped")
		}
		return nil
	case ActionRoomInfo:
		err = r.svc.RoomInfo(ctx, connectionId, msg.RoomId)
	case ActionCloseRoom:
		err = r.svc.CloseRoomRealtime(ctx, connectionId, msg.RoomId)
	default:
		log.Debug("unknown action")
		return ErrInvalidAction(msg.Action)
	}

	if err != nil {
		frame := errorFrameFor(msg.Action, err)
		if frame.StatusCode >= 500 {
			log.WithError(err).Error("action failed")
		} else {
			log.WithError(err).Debug("action rejected")
		}
		return frame
	}

	return nil
}

func (r *Router) Disconnect(ctx context.Context, connectionId string) {
	if err := r.svc.Disconnect(ctx, connectionId); err != nil {
		r.log.WithError(err).WithField("connection_id", connectionId).Error("disconnect cleanup failed")
	}
}
