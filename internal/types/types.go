package types

import (
	"slices"
	"time"
)

type RoomStatus string

const (
	RoomStatusActive RoomStatus = "active"
	RoomStatusClosed RoomStatus = "closed"
)

type RoomType string

const (
	RoomTypePublic  RoomType = "public"
	RoomTypePrivate RoomType = "private"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Room struct {
	Id              string     `json:"id"`
	Location        Location   `json:"location"`
	Radius          float64    `json:"radius"`
	RoadName        string     `json:"roadName"`
	Creator         string     `json:"creator"`
	Participants    []string   `json:"participants"`
	MaxParticipants int        `json:"maxParticipants"`
	LastActivity    int64      `json:"lastActivity"`
	Status          RoomStatus `json:"status"`
	RoomType        RoomType   `json:"roomType"`
}

func (r Room) IsActive() bool {
	return r.Status == RoomStatusActive
}

func (r Room) HasParticipant(userId string) bool {
	return slices.Contains(r.Participants, userId)
}

func (r Room) IsFull() bool {
	return len(r.Participants) >= r.MaxParticipants
}

// Clone returns a copy of the room that does not share the participants slice.
func (r Room) Clone() Room {
	r.Participants = slices.Clone(r.Participants)
	if r.Participants == nil {
		r.Participants = []string{}
	}
	return r
}

type Connection struct {
	ConnectionId string `json:"connectionId"`
	UserId       string `json:"userId"`
	RoomId       string `json:"roomId,omitempty"`
	ConnectedAt  int64  `json:"connectedAt"`
	// InstanceId names the server process holding the socket.
	InstanceId string `json:"instanceId,omitempty"`
}

type Message struct {
	RoomId    string    `json:"roomId"`
	Id        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	UserId    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserIcon  string    `json:"userIcon"`
	UserColor string    `json:"userColor"`
	// ExpiresAt is in epoch seconds.
	ExpiresAt int64 `json:"expiresAt"`
}

func (m Message) Expired(now time.Time) bool {
	return m.ExpiresAt <= now.Unix()
}

// Profile is the display information a client attaches to its frames.
type Profile struct {
	UserName  string `json:"userName"`
	UserIcon  string `json:"userIcon"`
	UserColor string `json:"userColor"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
