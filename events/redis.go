// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/docentlab/docent/datatypes"
)

const channelPrefix = "docent:events:"

// RedisPublisher mirrors every stream event onto a per-thread pub/sub
// channel so replicas behind a load balancer can relay streams they did
// not originate.
type RedisPublisher struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisPublisher(redisURL string, logger *slog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return &RedisPublisher{client: redis.NewClient(opts), logger: logger}, nil
}

// Channel returns the pub/sub channel for a thread.
func Channel(threadID string) string {
	return channelPrefix + threadID
}

// ForThread returns a Sink publishing this thread's events.
func (p *RedisPublisher) ForThread(threadID string) Sink {
	return SinkFunc(func(ctx context.Context, event datatypes.StreamEvent) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := p.client.Publish(ctx, Channel(threadID), payload).Err(); err != nil {
			p.logger.Warn("Failed to publish event to redis",
				"thread_id", threadID, "event_type", event.EventType, "error", err)
			return err
		}
		return nil
	})
}

// Ping reports broker reachability for /health.
func (p *RedisPublisher) Ping(ctx context.Context) bool {
	return p.client.Ping(ctx).Err() == nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
