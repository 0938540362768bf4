package server

import (
	"context"
	"errors"
	"sync"

	"github.com/npezzotti/jam-chat/internal/dispatch"
	"github.com/npezzotti/jam-chat/internal/stats"
	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrSendQueueFull = errors.New("send queue full")
	// ErrRemoteConnection is returned for a connection held by another
	// instance when no relay is configured. The record is left in place.
	ErrRemoteConnection = errors.New("connection held by another instance")
)

// Relay forwards a frame to the instance holding a connection.
type Relay interface {
	Forward(ctx context.Context, conn types.Connection, payload []byte) error
}

// Hub tracks the websocket clients connected to this process, keyed by
// connection id. It is the transport the dispatcher writes to.
type Hub struct {
	instanceId  string
	log         *logrus.Logger
	stats       stats.StatsProvider
	relay       Relay
	clients     map[string]*Client
	clientsLock sync.RWMutex
	wg          sync.WaitGroup
}

func NewHub(instanceId string, logger *logrus.Logger, st stats.StatsProvider) *Hub {
	st.RegisterMetric(stats.LiveConnections)

	return &Hub{
		instanceId: instanceId,
		log:        logger,
		stats:      st,
		clients:    make(map[string]*Client),
	}
}

func (h *Hub) InstanceId() string {
	return h.instanceId
}

// UseRelay sets the relay used for connections held by other instances.
// It must be called before the hub starts sending.
func (h *Hub) UseRelay(r Relay) {
	h.relay = r
}

func (h *Hub) Register(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	h.clients[c.id] = c
	h.wg.Add(1)
	h.stats.Incr(stats.LiveConnections)
	h.log.WithFields(logrus.Fields{
		"connection_id": c.id,
		"user_id":       c.userId,
	}).Debug("client registered")
}

func (h *Hub) Unregister(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		h.stats.Decr(stats.LiveConnections)
		h.log.WithField("connection_id", c.id).Debug("client unregistered")
	}
}

func (h *Hub) getClient(connectionId string) (*Client, bool) {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	c, ok := h.clients[connectionId]
	return c, ok
}

func (h *Hub) Count() int {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	return len(h.clients)
}

// Send queues payload for conn. Connections stamped with another instance
// id go to the relay and are never reported gone. A connection owned here
// that has no live client yields dispatch.ErrGone.
func (h *Hub) Send(ctx context.Context, conn types.Connection, payload []byte) error {
	if h.isRemote(conn) {
		if h.relay == nil {
			return ErrRemoteConnection
		}
		return h.relay.Forward(ctx, conn, payload)
	}

	return h.Deliver(conn.ConnectionId, payload)
}

func (h *Hub) isRemote(conn types.Connection) bool {
	return conn.InstanceId != "" && conn.InstanceId != h.instanceId
}

// Deliver queues payload on a local client's send channel without blocking.
// It returns dispatch.ErrGone when no live client holds the connection.
func (h *Hub) Deliver(connectionId string, payload []byte) error {
	c, ok := h.getClient(connectionId)
	if !ok || c.stopped() {
		return dispatch.ErrGone
	}

	if !c.queueMessage(payload) {
		return ErrSendQueueFull
	}

	return nil
}

// Shutdown stops every client and waits for their disconnect cleanup to
// finish or ctx to expire. Each registered client releases the wait group
// once its read loop has exited.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Println("shutting down clients")

	h.clientsLock.RLock()
	for _, c := range h.clients {
		c.stopClient()
	}
	h.clientsLock.RUnlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
