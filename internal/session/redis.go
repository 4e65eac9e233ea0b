package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"helpdeskagent/internal/models"
	"helpdeskagent/internal/redis"
)

const (
	redisKeyPrefix         = "helpdesk:session:"
	redisInvalidateChannel = "helpdesk:session:invalidate"
)

// Invalidation is broadcast when a session is ended so peers drop local state.
type Invalidation struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// RedisStore keeps each session as one JSON blob whose TTL is refreshed on write.
// Redis expiry does the eviction, so Sweep is a no-op.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(key string) string { return redisKeyPrefix + key }

func (r *RedisStore) load(ctx context.Context, key string) (*models.Session, error) {
	raw, err := r.client.Get(ctx, redisKey(key))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	var s models.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &s, nil
}

func (r *RedisStore) save(ctx context.Context, s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.Key, err)
	}
	if err := r.client.Set(ctx, redisKey(s.Key), data, r.ttl); err != nil {
		return fmt.Errorf("save session %s: %w", s.Key, err)
	}
	return nil
}

func (r *RedisStore) GetOrCreate(ctx context.Context, key string, identity models.Identity, role models.Role) (*models.Session, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	s, err := r.load(ctx, key)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	s, err = newSession(key, identity, role, time.Now().UTC(), r.ttl)
	if err != nil {
		return nil, false, err
	}
	if err := r.save(ctx, s); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (*models.Session, error) {
	return r.load(ctx, key)
}

// Append rewrites the blob. Turns on one key are serialized by the worker
// manager, so there is no read-modify-write race within a process.
func (r *RedisStore) Append(ctx context.Context, key, sessionID string, msgs ...*models.Message) error {
	s, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	if s.ID != sessionID {
		return ErrNotFound
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		c := *msg
		c.SessionKey = key
		s.History = append(s.History, &c)
	}
	now := time.Now().UTC()
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(r.ttl)
	return r.save(ctx, s)
}

func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.Exists(ctx, redisKey(key))
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", key, err)
	}
	if err := r.client.Del(ctx, redisKey(key)); err != nil {
		return false, fmt.Errorf("delete session %s: %w", key, err)
	}
	r.publish(ctx, Invalidation{Key: key, Reason: "ended"})
	return ok, nil
}

func (r *RedisStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func (r *RedisStore) publish(ctx context.Context, msg Invalidation) {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "session invalidation marshal failed", "error", err)
		return
	}
	if err := r.client.Publish(ctx, redisInvalidateChannel, payload); err != nil {
		slog.ErrorContext(ctx, "session invalidation publish failed", "error", err)
	}
}

// Listen delivers invalidations from every process sharing the redis instance
// until ctx is done.
func (r *RedisStore) Listen(ctx context.Context, handler func(Invalidation)) error {
	if handler == nil {
		return errors.New("handler required")
	}
	pubsub, err := r.client.Subscribe(ctx, redisInvalidateChannel)
	if err != nil {
		return err
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					slog.Error("session invalidation decode failed", "error", err)
					continue
				}
				handler(inv)
			}
		}
	}()
	return nil
}
