package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/npezzotti/jam-chat/internal/chat"
	"github.com/npezzotti/jam-chat/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFrameFor(t *testing.T) {
	tcases := []struct {
		name       string
		action     string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "unknown connection",
			action:     ActionJoinRoom,
			err:        fmt.Errorf("%w: %q", chat.ErrUnknownConnection, "abc"),
			wantStatus: http.StatusNotFound,
			wantMsg:    "Connection not found",
		},
		{
			name:       "invalid input",
			action:     ActionSendMessage,
			err:        fmt.Errorf("%w: text is required", chat.ErrInvalidInput),
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Missing parameters",
		},
		{
			name:       "forbidden",
			action:     ActionCloseRoom,
			err:        chat.ErrForbidden,
			wantStatus: http.StatusForbidden,
			wantMsg:    "Unauthorized",
		},
		{
			name:       "room full",
			action:     ActionJoinRoom,
			err:        database.ErrRoomFull,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Room is full",
		},
		{
			name:       "join missing room",
			action:     ActionJoinRoom,
			err:        database.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantMsg:    "Room not found or inactive",
		},
		{
			name:       "send to closed room",
			action:     ActionSendMessage,
			err:        fmt.Errorf("touch room: %w", database.ErrRoomInactive),
			wantStatus: http.StatusNotFound,
			wantMsg:    "Room not found or inactive",
		},
		{
			name:       "room info missing room",
			action:     ActionRoomInfo,
			err:        database.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantMsg:    "Room not found",
		},
		{
			name:       "close missing room",
			action:     ActionCloseRoom,
			err:        database.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantMsg:    "Room not found",
		},
		{
			name:       "store failure",
			action:     ActionJoinRoom,
			err:        assert.AnError,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Internal server error: " + assert.AnError.Error(),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			frame := errorFrameFor(tc.action, tc.err)
			assert.Equal(t, "error", frame.Type)
			assert.Equal(t, tc.action, frame.Action)
			assert.Equal(t, tc.wantStatus, frame.StatusCode)
			assert.Equal(t, tc.wantMsg, frame.Error)
		})
	}
}

func TestErrorFrame_JSON(t *testing.T) {
	data, err := json.Marshal(ErrInvalidAction("dance"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","action":"dance","statusCode":400,"error":"Invalid action"}`, string(data))

	data, err = json.Marshal(ErrInvalidAction(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","statusCode":400,"error":"Invalid action"}`, string(data))
}

func TestClientMessage_Profile(t *testing.T) {
	var msg ClientMessage
	err := json.Unmarshal([]byte(`{"action":"join-room","roomId":"r1","userName":"Alice","userIcon":"car","userColor":"#ff0000"}`), &msg)
	require.NoError(t, err)

	assert.Equal(t, ActionJoinRoom, msg.Action)
	assert.Equal(t, "r1", msg.RoomId)
	p := msg.Profile()
	assert.Equal(t, "Alice", p.UserName)
	assert.Equal(t, "car", p.UserIcon)
	assert.Equal(t, "#ff0000", p.UserColor)
}
