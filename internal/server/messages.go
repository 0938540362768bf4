package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/jam-chat/internal/chat"
	"github.com/npezzotti/jam-chat/internal/database"
	"github.com/npezzotti/jam-chat/internal/types"
)

// Actions a client may request.
const (
	ActionJoinRoom    = "join-room"
	ActionSendMessage = "send-message"
	ActionUserTyping  = "user-typing"
	ActionRoomInfo    = "room-info"
	ActionCloseRoom   = "close-room"
)

type ClientMessage struct {
	Action    string `json:"action"`
	RoomId    string `json:"roomId"`
	MessageId string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
	UserName  string `json:"userName,omitempty"`
	UserIcon  string `json:"userIcon,omitempty"`
	UserColor string `json:"userColor,omitempty"`
}

func (m *ClientMessage) Profile() types.Profile {
	return types.Profile{
		UserName:  m.UserName,
		UserIcon:  m.UserIcon,
		UserColor: m.UserColor,
	}
}

// ErrorFrame reports a failed action to the client that requested it.
type ErrorFrame struct {
	Type       string `json:"type"`
	Action     string `json:"action,omitempty"`
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
}

func newErrorFrame(action string, statusCode int, msg string) *ErrorFrame {
	return &ErrorFrame{
		Type:       "error",
		Action:     action,
		StatusCode: statusCode,
		Error:      msg,
	}
}

func ErrInvalidAction(action string) *ErrorFrame {
	return newErrorFrame(action, http.StatusBadRequest, "Invalid action")
}

func ErrConnectionNotFound(action string) *ErrorFrame {
	return newErrorFrame(action, http.StatusNotFound, "Connection not found")
}

func ErrMissingParameters(action string) *ErrorFrame {
	return newErrorFrame(action, http.StatusBadRequest, "Missing parameters")
}

func ErrRoomNotFound(action string) *ErrorFrame {
	msg := "Room not found or inactive"
	if action == ActionRoomInfo || action == ActionCloseRoom {
		msg = "Room not found"
	}
	return newErrorFrame(action, http.StatusNotFound, msg)
}

func ErrRoomFull(action string) *ErrorFrame {
	return newErrorFrame(action, http.StatusBadRequest, "Room is full")
}

func ErrUnauthorized(action string) *ErrorFrame {
	return newErrorFrame(action, http.StatusForbidden, "Unauthorized")
}

func ErrInternalError(action string, err error) *ErrorFrame {
	return newErrorFrame(action, http.StatusInternalServerError, fmt.Sprintf("Internal server error: %s", err))
}

// errorFrameFor maps a service error onto the frame sent back to the client.
func errorFrameFor(action string, err error) *ErrorFrame {
	switch {
	case errors.Is(err, chat.ErrUnknownConnection):
		return ErrConnectionNotFound(action)
	case errors.Is(err, chat.ErrInvalidInput):
		return ErrMissingParameters(action)
	case errors.Is(err, chat.ErrForbidden):
		return ErrUnauthorized(action)
	case errors.Is(err, database.ErrRoomFull):
		return ErrRoomFull(action)
	case errors.Is(err, database.ErrNotFound), errors.Is(err, database.ErrRoomInactive):
		return ErrRoomNotFound(action)
	default:
		return ErrInternalError(action, err)
	}
}
