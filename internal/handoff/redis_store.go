// Package handoff stores document content a host stages for an editor
// session that has not started yet.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"editorbridge/internal/threads"
)

// ErrNotFound means nothing is staged for the document.
var ErrNotFound = errors.New("no handoff staged for document")

// Payload is what a host stages: the same content a LOAD_CONTENT carries.
type Payload struct {
	HTML         string           `json:"html"`
	CommentsData []threads.Thread `json:"commentsData"`
	StagedAt     time.Time        `json:"stagedAt"`
}

// RedisStore keeps one staged payload per document id. A payload is read at
// most once.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStore{
		client: client,
		prefix: "handoff:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(documentID string) string {
	return s.prefix + documentID
}

// Save stages payload for documentID, replacing anything staged before.
func (s *RedisStore) Save(ctx context.Context, documentID string, payload Payload) error {
	if payload.StagedAt.IsZero() {
		payload.StagedAt = time.Now().UTC()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal handoff: %w", err)
	}
	if err := s.client.Set(ctx, s.key(documentID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	return nil
}

// Take returns and removes the payload staged for documentID.
func (s *RedisStore) Take(ctx context.Context, documentID string) (Payload, error) {
	data, err := s.client.GetDel(ctx, s.key(documentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Payload{}, ErrNotFound
	}
	if err != nil {
		return Payload{}, fmt.Errorf("take handoff: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Payload{}, fmt.Errorf("unmarshal handoff: %w", err)
	}
	return payload, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
