package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/config"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
)

// NewRedisClient connects to Redis and pings it
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisSink pushes alerts onto a Redis list capped at maxLength entries,
// newest first
type RedisSink struct {
	client    redis.Cmdable
	key       string
	maxLength int64
}

// NewRedisSink creates a Redis sink. A maxLength of 0 keeps every alert.
func NewRedisSink(client redis.Cmdable, key string, maxLength int64) *RedisSink {
	if key == "" {
		key = "resilience:alerts"
	}
	return &RedisSink{client: client, key: key, maxLength: maxLength}
}

// Name returns the sink name
func (s *RedisSink) Name() string {
	return "redis"
}

// Deliver pushes the alert and trims the list
func (s *RedisSink) Deliver(ctx context.Context, alert resilience.AlertPayload) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	if s.maxLength > 0 {
		pipe.LTrim(ctx, s.key, 0, s.maxLength-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push alert to Redis: %w", err)
	}
	return nil
}

// Recent returns up to limit alerts, newest first
func (s *RedisSink) Recent(ctx context.Context, limit int) ([]resilience.AlertPayload, error) {
	if limit <= 0 {
		return nil, nil
	}

	items, err := s.client.LRange(ctx, s.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts from Redis: %w", err)
	}

	alerts := make([]resilience.AlertPayload, 0, len(items))
	for _, item := range items {
		var alert resilience.AlertPayload
		if err := json.Unmarshal([]byte(item), &alert); err != nil {
			return nil, fmt.Errorf("failed to decode alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
