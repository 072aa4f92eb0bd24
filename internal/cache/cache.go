// Package cache keeps the computed KPI summary in Redis so repeated
// dashboard polls do not re-aggregate the readings table.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

const summaryKey = "sensors:summary"

// ErrMiss means no cached value exists.
var ErrMiss = errors.New("cache miss")

type SummaryCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// Connect dials Redis and verifies it answers.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{redis: client, ttl: ttl}
}

func (c *SummaryCache) Get(ctx context.Context) (domain.Summary, error) {
	data, err := c.redis.Get(ctx, summaryKey).Result()
	if err == redis.Nil {
		return domain.Summary{}, ErrMiss
	}
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to get summary from Redis: %w", err)
	}

	var s domain.Summary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return domain.Summary{}, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return s, nil
}

func (c *SummaryCache) Set(ctx context.Context, s domain.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := c.redis.Set(ctx, summaryKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set summary in Redis: %w", err)
	}
	return nil
}

// Invalidate drops the cached summary, e.g. after an alert is acknowledged.
func (c *SummaryCache) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, summaryKey).Err()
}
