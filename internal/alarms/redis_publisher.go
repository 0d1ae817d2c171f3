package alarms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisStateKeyPrefix = "alarms:state:"
	DefaultRedisChannel = "alarms:events"
	defaultStateTTL     = 24 * time.Hour
)

// RedisPublisher keeps the latest envelope per identity in a hash per camera
// and publishes every envelope on a pub/sub channel.
type RedisPublisher struct {
	client   *redis.Client
	channel  string
	stateTTL time.Duration
}

func NewRedisPublisher(client *redis.Client, channel string, stateTTL time.Duration) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if stateTTL <= 0 {
		stateTTL = defaultStateTTL
	}
	return &RedisPublisher{client: client, channel: channel, stateTTL: stateTTL}
}

func (p *RedisPublisher) Name() string { return "redis" }

// StateKey is the hash holding a camera's latest envelopes.
func StateKey(cameraID string) string {
	return redisStateKeyPrefix + cameraID
}

func (p *RedisPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	key := StateKey(env.CameraID)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, env.Identity, data)
		pipe.Expire(ctx, key, p.stateTTL)
		pipe.Publish(ctx, p.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// LatestStates reads the stored envelopes of a camera keyed by identity.
func (p *RedisPublisher) LatestStates(ctx context.Context, cameraID string) (map[string]Envelope, error) {
	raw, err := p.client.HGetAll(ctx, StateKey(cameraID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Envelope, len(raw))
	for identity, v := range raw {
		var env Envelope
		if err := json.Unmarshal([]byte(v), &env); err != nil {
			return nil, fmt.Errorf("decode state %q: %w", identity, err)
		}
		out[identity] = env
	}
	return out, nil
}
