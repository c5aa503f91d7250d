package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gamiai/internal/redis"
)

const redisKeyPrefix = "gami:session:"

// RedisStore keeps states as JSON values that expire after ttl of inactivity.
// Every Load pushes the expiry out again.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client.WithPrefix(redisKeyPrefix), ttl: ttl}
}

func (r *RedisStore) Save(ctx context.Context, state *State) error {
	if state == nil || state.ID == "" {
		return errors.New("session id is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Put(ctx, state.ID, data, r.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Update(ctx context.Context, state *State) error {
	if state == nil || state.ID == "" {
		return errors.New("session id is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := r.client.Replace(ctx, state.ID, data, r.ttl)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (*State, error) {
	raw, err := r.client.Fetch(ctx, id, r.ttl)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if state.Transcript == nil {
		state.Transcript = []Entry{}
	}
	for i, entry := range state.Transcript {
		if !entry.Role.Valid() {
			return nil, fmt.Errorf("decode session: transcript entry %d has role %q", i, entry.Role)
		}
	}
	return &state, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Remove(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
