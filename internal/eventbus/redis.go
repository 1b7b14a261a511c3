/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays planner events between instances over Redis pub/sub.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/taskplanner/internal/events"
)

const channelPrefix = "taskplanner:events:"

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout time.Duration
	MaxFailures int
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
		MaxFailures: 5,
	}
}

// RedisBus publishes locally and to Redis, and replays events from other
// instances onto the local bus. Subscriptions are always served by the local bus.
type RedisBus struct {
	local  *events.Bus
	client *redis.Client
	nodeID string
	logger zerolog.Logger

	mu          sync.Mutex
	useFallback bool
	failCount   int
	maxFails    int

	wg sync.WaitGroup
}

// NewRedisBus wraps local. When Redis cannot be reached the bus stays local-only.
func NewRedisBus(cfg RedisConfig, local *events.Bus, nodeID string, logger zerolog.Logger) *RedisBus {
	rb := &RedisBus{
		local:    local,
		nodeID:   nodeID,
		logger:   logger.With().Str("component", "eventbus").Logger(),
		maxFails: cfg.MaxFailures,
	}
	if rb.maxFails <= 0 {
		rb.maxFails = 5
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout+time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("Redis connection failed, events stay on this instance")
		_ = client.Close()
		rb.useFallback = true
		return rb
	}

	rb.client = client
	rb.logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("Redis event bus initialized")
	return rb
}

// Distributed reports whether events are relayed through Redis.
func (rb *RedisBus) Distributed() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return !rb.useFallback
}

// Subscribe registers a local subscriber.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	return rb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Start relays remote events until ctx is cancelled.
func (rb *RedisBus) Start(ctx context.Context) {
	if !rb.Distributed() {
		return
	}

	pubsub := rb.client.PSubscribe(ctx, channelPrefix+"*")
	rb.wg.Add(1)
	go func() {
		defer rb.wg.Done()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					rb.logger.Warn().Msg("Redis subscription closed")
					return
				}
				rb.deliver(msg)
			}
		}
	}()
}

func (rb *RedisBus) deliver(msg *redis.Message) {
	remote, err := unmarshalMessage([]byte(msg.Payload))
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to unmarshal Redis message")
		return
	}
	if remote.NodeID == rb.nodeID {
		return
	}
	eventType := events.EventType(strings.TrimPrefix(msg.Channel, channelPrefix))
	rb.local.Publish(eventType, remote.Payload)
}

// Publish sends an event payload to local subscribers and other instances.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	if !rb.Distributed() {
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal Redis message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(ctx, channelPrefix+string(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// Close waits for the relay to stop and closes the Redis client.
func (rb *RedisBus) Close() error {
	rb.wg.Wait()
	if rb.client != nil {
		return rb.client.Close()
	}
	return nil
}

func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.useFallback {
		rb.logger.Warn().Int("fail_count", rb.failCount).Msg("Redis failure threshold reached, events stay on this instance")
		rb.useFallback = true
	}
}

type redisMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(redisMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	})
}

func unmarshalMessage(data []byte) (*redisMessage, error) {
	var msg redisMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal redis message: %w", err)
	}
	return &msg, nil
}
