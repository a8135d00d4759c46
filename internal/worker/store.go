package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexanderramin/defectlens/internal/domain"
)

// Notification is published once per settled job.
type Notification struct {
	ImageID        string           `json:"image_id"`
	DefectID       string           `json:"defect_id,omitempty"`
	Status         string           `json:"status"` // COMPLETED or FAILED
	DefectDetected bool             `json:"defect_detected"`
	Severity       *domain.Severity `json:"severity,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Timestamp      int64            `json:"timestamp"`
}

const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// ResultStore keeps finished records so redelivered jobs are not analyzed
// twice, and announces results to subscribers.
type ResultStore interface {
	Exists(ctx context.Context, imageID string) (bool, error)
	Save(ctx context.Context, imageID string, rec *domain.DefectAnalysisRecord) error
	Notify(ctx context.Context, n *Notification) error
}

// RedisStore implements ResultStore on Redis keys plus a pub/sub channel.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	channel   string
	ttl       time.Duration
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, addr, password string, db int, channel string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{
		client:    client,
		keyPrefix: "defectlens:result:",
		channel:   channel,
		ttl:       ttl,
	}, nil
}

func (s *RedisStore) key(imageID string) string { return s.keyPrefix + imageID }

func (s *RedisStore) Exists(ctx context.Context, imageID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(imageID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking result for %s: %w", imageID, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Save(ctx context.Context, imageID string, rec *domain.DefectAnalysisRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(imageID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving result for %s: %w", imageID, err)
	}
	return nil
}

// Load returns a stored record, or nil if none exists.
func (s *RedisStore) Load(ctx context.Context, imageID string) (*domain.DefectAnalysisRecord, error) {
	data, err := s.client.Get(ctx, s.key(imageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading result for %s: %w", imageID, err)
	}
	var rec domain.DefectAnalysisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding result for %s: %w", imageID, err)
	}
	return &rec, nil
}

func (s *RedisStore) Notify(ctx context.Context, n *Notification) error {
	if s.channel == "" {
		return nil
	}
	msg, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Subscribe opens a subscription on the notification channel.
func (s *RedisStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.channel)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
