package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nika/server/internal/session"
)

const (
	channelPrefix = "room:"
	dialTimeout   = 3 * time.Second
	pingTimeout   = 2 * time.Second
)

// NewRedisClient parses redisURL and returns a client that answered a ping.
func NewRedisClient(ctx context.Context, redisURL string, logger *zap.Logger) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	options.DialTimeout = dialTimeout

	client := redis.NewClient(options)
	if err := Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("redis_connected", zap.String("addr", options.Addr))
	return client, nil
}

// Ping verifies that Redis is reachable.
func Ping(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}
	return nil
}

// Relay publishes room events to Redis and delivers every event it receives
// back from Redis to the local rooms, including the ones it published.
type Relay struct {
	client *redis.Client
	rooms  *session.Rooms
	logger *zap.Logger
}

// NewRelay creates a relay over client
func NewRelay(client *redis.Client, rooms *session.Rooms, logger *zap.Logger) *Relay {
	return &Relay{client: client, rooms: rooms, logger: logger}
}

// Publish sends payload to the user's channel.
func (r *Relay) Publish(ctx context.Context, userID uuid.UUID, payload []byte) error {
	if err := r.client.Publish(ctx, channel(userID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run consumes every room channel until ctx is cancelled. It returns once
// the subscription is closed.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	// Receive blocks until the subscription is confirmed, so nothing
	// published after Run starts is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.logger.Info("relay_started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay_stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID, err := parseChannel(msg.Channel)
			if err != nil {
				r.logger.Warn("relay_bad_channel", zap.String("channel", msg.Channel))
				continue
			}
			r.rooms.Publish(userID, []byte(msg.Payload))
		}
	}
}

func channel(userID uuid.UUID) string {
	return channelPrefix + userID.String()
}

func parseChannel(name string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(name, channelPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("not a room channel: %q", name)
	}
	return uuid.Parse(raw)
}
