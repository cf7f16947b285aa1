// ABOUTME: Redis-backed thread registry shared across gateway replicas
// ABOUTME: Stores each thread as a JSON value under a key that expires with the thread's TTL

package threads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "consult:thread:"

// RedisRegistry implements Registry on a Redis server.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisRegistry connects to Redis and verifies the connection.
func NewRedisRegistry(ctx context.Context, opts RedisOptions, ttl time.Duration) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRedisRegistryFromClient(client, ttl), nil
}

// NewRedisRegistryFromClient wraps an existing client.
func NewRedisRegistryFromClient(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "threads", "backend", "redis"),
	}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Register stores the thread with the registry TTL.
func (r *RedisRegistry) Register(ctx context.Context, t *Thread) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding thread: %w", err)
	}

	if err := r.client.Set(ctx, redisKey(t.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storing thread: %w", err)
	}

	r.logger.Debug("registered thread", "thread_id", t.ID, "patient_id", t.PatientID)
	return nil
}

// Lookup loads the thread, or ErrNotFound when the key is missing or expired.
func (r *RedisRegistry) Lookup(ctx context.Context, id string) (*Thread, error) {
	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading thread: %w", err)
	}

	var t Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding thread: %w", err)
	}
	return &t, nil
}

// MarkCompleted rewrites the thread with the completed flag, keeping its TTL.
func (r *RedisRegistry) MarkCompleted(ctx context.Context, id string) error {
	t, err := r.Lookup(ctx, id)
	if err != nil {
		return err
	}
	t.Completed = true

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding thread: %w", err)
	}

	ok, err := r.client.SetXX(ctx, redisKey(id), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("updating thread: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
