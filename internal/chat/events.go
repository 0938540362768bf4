package chat

import (
	"time"

	"github.com/npezzotti/jam-chat/internal/types"
)

// Event types pushed to realtime clients.
const (
	EventNewMessage = "new-message"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventUserTyping = "user-typing"
	EventRoomInfo   = "room-info"
	EventRoomClosed = "room-closed"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type NewMessage struct {
	Type      string `json:"type"`
	Id        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
	UserId    string `json:"userId"`
	UserName  string `json:"userName"`
	UserIcon  string `json:"userIcon"`
	UserColor string `json:"userColor"`
}

func NewMessageEvent(msg types.Message) NewMessage {
	return NewMessage{
		Type:      EventNewMessage,
		Id:        msg.Id,
		Text:      msg.Text,
		CreatedAt: formatTime(msg.CreatedAt),
		UserId:    msg.UserId,
		UserName:  msg.UserName,
		UserIcon:  msg.UserIcon,
		UserColor: msg.UserColor,
	}
}

type UserJoined struct {
	Type      string     `json:"type"`
	UserId    string     `json:"userId"`
	UserName  string     `json:"userName"`
	UserIcon  string     `json:"userIcon"`
	UserColor string     `json:"userColor"`
	CreatorId string     `json:"creatorId"`
	RoomInfo  types.Room `json:"roomInfo"`
}

func UserJoinedEvent(userId string, profile types.Profile, room types.Room) UserJoined {
	return UserJoined{
		Type:      EventUserJoined,
		UserId:    userId,
		UserName:  profile.UserName,
		UserIcon:  profile.UserIcon,
		UserColor: profile.UserColor,
		CreatorId: room.Creator,
		RoomInfo:  room,
	}
}

type UserLeft struct {
	Type     string     `json:"type"`
	UserId   string     `json:"userId"`
	RoomId   string     `json:"roomId"`
	RoomInfo types.Room `json:"roomInfo"`
}

func UserLeftEvent(userId string, room types.Room) UserLeft {
	return UserLeft{
		Type:     EventUserLeft,
		UserId:   userId,
		RoomId:   room.Id,
		RoomInfo: room,
	}
}

type UserTyping struct {
	Type     string `json:"type"`
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
}

func UserTypingEvent(userId, userName string) UserTyping {
	return UserTyping{Type: EventUserTyping, UserId: userId, UserName: userName}
}

// RoomInfo flattens the room record next to the type field.
type RoomInfo struct {
	Type string `json:"type"`
	types.Room
}

func RoomInfoEvent(room types.Room) RoomInfo {
	return RoomInfo{Type: EventRoomInfo, Room: room}
}

type RoomClosed struct {
	Type string `json:"type"`
}

func RoomClosedEvent() RoomClosed {
	return RoomClosed{Type: EventRoomClosed}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(isoMillis)
}
