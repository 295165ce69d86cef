// Package tokens provides a Redis-backed credential store so several
// consoles on different hosts can share one signed-in user.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"wa-console/internal/store"
)

const (
	fieldAccess  = "access_token"
	fieldRefresh = "refresh_token"
	fieldUser    = "user"
)

// RedisStore keeps the token pair and profile in one Redis hash.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to the Redis server at url (redis://...).
func NewRedisStore(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if key == "" {
		key = "wa-console:credentials"
	}
	return &RedisStore{client: client, key: key}, nil
}

// Tokens returns the stored token pair.
func (r *RedisStore) Tokens(ctx context.Context) (store.Tokens, error) {
	vals, err := r.client.HMGet(ctx, r.key, fieldAccess, fieldRefresh).Result()
	if err != nil {
		return store.Tokens{}, err
	}
	return store.Tokens{AccessToken: asString(vals[0]), RefreshToken: asString(vals[1])}, nil
}

// SaveTokens replaces the token pair.
func (r *RedisStore) SaveTokens(ctx context.Context, t store.Tokens) error {
	return r.client.HSet(ctx, r.key, fieldAccess, t.AccessToken, fieldRefresh, t.RefreshToken).Err()
}

// SetAccessToken replaces only the access token.
func (r *RedisStore) SetAccessToken(ctx context.Context, token string) error {
	return r.client.HSet(ctx, r.key, fieldAccess, token).Err()
}

// User returns the stored profile, or store.ErrNotFound.
func (r *RedisStore) User(ctx context.Context) (*store.User, error) {
	raw, err := r.client.HGet(ctx, r.key, fieldUser).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var u store.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("failed to decode stored user: %w", err)
	}
	return &u, nil
}

// SaveUser stores the profile.
func (r *RedisStore) SaveUser(ctx context.Context, u *store.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key, fieldUser, data).Err()
}

// Clear removes tokens and profile.
func (r *RedisStore) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
