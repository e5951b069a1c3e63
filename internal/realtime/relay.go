package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/pkg/logger"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by every server instance.
const DefaultRelayChannel = "schoolx:realtime"

type relayEnvelope struct {
	Stream  string  `json:"stream"`
	UserID  string  `json:"user_id"`
	Message Message `json:"message"`
}

// RedisRelay publishes broadcasts through Redis so that every instance's hub delivers them.
type RedisRelay struct {
	client  *goredis.Client
	hub     *Hub
	channel string
	log     *zap.Logger

	mu     sync.Mutex
	pubsub *goredis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisRelay(client *goredis.Client, hub *Hub, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		client:  client,
		hub:     hub,
		channel: channel,
		log:     logger.WithModule("realtime.relay"),
	}
}

// Start subscribes to the relay channel and forwards messages to the local hub until Stop.
func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return errors.New("realtime relay: already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return err
	}

	r.pubsub = pubsub
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.forward(pubsub.Channel(), r.done)
	return nil
}

func (r *RedisRelay) forward(messages <-chan *goredis.Message, done chan struct{}) {
	defer close(done)
	for msg := range messages {
		var env relayEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.log.Warn("invalid relay payload", zap.Error(err))
			continue
		}
		r.hub.BroadcastToUser(env.Stream, env.UserID, env.Message)
	}
}

// Stop unsubscribes and waits for the forwarding goroutine to exit.
func (r *RedisRelay) Stop() error {
	r.mu.Lock()
	pubsub, cancel, done := r.pubsub, r.cancel, r.done
	r.pubsub, r.cancel, r.done = nil, nil, nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	cancel()
	err := pubsub.Close()
	<-done
	return err
}

// BroadcastToUser publishes the message; delivery happens when it is received back from Redis.
// Publish failures fall back to local delivery.
func (r *RedisRelay) BroadcastToUser(stream, userID string, message Message) {
	payload, err := json.Marshal(relayEnvelope{Stream: stream, UserID: userID, Message: message})
	if err == nil {
		err = r.client.Publish(context.Background(), r.channel, payload).Err()
	}
	if err != nil {
		r.log.Warn("relay publish failed, delivering locally", zap.Error(err))
		r.hub.BroadcastToUser(stream, userID, message)
	}
}
