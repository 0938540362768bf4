package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/npezzotti/jam-chat/internal/dispatch"
	"github.com/npezzotti/jam-chat/internal/types"
	"github.com/sirupsen/logrus"
)

// relayEnvelope is the frame published on an instance's relay channel.
type relayEnvelope struct {
	ConnectionId string `json:"connectionId"`
	Payload      []byte `json:"payload"`
}

// RedisRelay moves frames between instances over redis pub/sub. Each
// instance subscribes to its own channel and delivers what it receives to
// its local clients.
type RedisRelay struct {
	client    *redis.Client
	keyPrefix string
	log       *logrus.Logger
}

func NewRedisRelay(client *redis.Client, keyPrefix string, logger *logrus.Logger) *RedisRelay {
	return &RedisRelay{
		client:    client,
		keyPrefix: keyPrefix,
		log:       logger,
	}
}

func (r *RedisRelay) channel(instanceId string) string {
	return r.keyPrefix + "relay:" + instanceId
}

// Forward publishes payload on the channel of the instance holding conn.
func (r *RedisRelay) Forward(ctx context.Context, conn types.Connection, payload []byte) error {
	data, err := json.Marshal(relayEnvelope{
		ConnectionId: conn.ConnectionId,
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("marshal relay frame: %w", err)
	}

	channel := r.channel(conn.InstanceId)
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	return nil
}

// Run subscribes to the hub's own channel and delivers relayed frames until
// ctx is done. The subscription is confirmed before ready is closed.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub, ready chan<- struct{}) error {
	channel := r.channel(hub.InstanceId())
	pubsub := r.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.log.WithField("channel", channel).Info("relay subscribed")

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.deliver(hub, msg.Payload)
		}
	}
}

func (r *RedisRelay) deliver(hub *Hub, raw string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.log.WithError(err).Warn("malformed relay frame")
		return
	}

	err := hub.Deliver(env.ConnectionId, env.Payload)
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrGone):
		// client cleanup already dropped the record
		r.log.WithField("connection_id", env.ConnectionId).Debug("relayed frame for closed connection")
	default:
		r.log.WithField("connection_id", env.ConnectionId).WithError(err).Warn("deliver relayed frame")
	}
}
