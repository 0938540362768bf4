package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
	handleTimeout  = 10 * time.Second
	sendBufferSize = 256
)

// Handler processes the frames read from a client connection.
type Handler interface {
	Handle(ctx context.Context, connectionId string, raw []byte) *ErrorFrame
	Disconnect(ctx context.Context, connectionId string)
}

type Client struct {
	id       string
	userId   string
	conn     *websocket.Conn
	hub      *Hub
	handler  Handler
	log      *logrus.Entry
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(id, userId string, conn *websocket.Conn, hub *Hub, h Handler, l *logrus.Logger) *Client {
	return &Client{
		id:      id,
		userId:  userId,
		conn:    conn,
		hub:     hub,
		handler: h,
		log: l.WithFields(logrus.Fields{
			"connection_id": id,
			"user_id":       userId,
		}),
		send: make(chan []byte, sendBufferSize),
		stop: make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("ws: read")
			}
			break
		}

		c.log.WithField("frame", string(raw)).Debug("received frame")

		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		frame := c.handler.Handle(ctx, c.id, raw)
		cancel()

		if frame != nil {
			c.queueError(frame)
		}
	}
}

func (c *Client) queueError(frame *ErrorFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.WithError(err).Error("failed to serialize error frame")
		return
	}

	c.queueMessage(data)
}

func (c *Client) queueMessage(msg []byte) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.WithError(err).Warn("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// cleanup removes the client from the hub before tearing down its
// connection record, so no delivery targets a half-closed socket.
func (c *Client) cleanup() {
	c.hub.Unregister(c)
	c.stopClient()

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	c.handler.Disconnect(ctx, c.id)

	c.hub.wg.Done()
}
