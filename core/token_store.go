package core

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Storage keys, one namespace per browser.
const (
	storageKeyPrefix  = "terrabia:kv:"
	storageToken      = "token"
	storageRefresh    = "refresh_token"
	storageCachedUser = "terrabia_user"
	defaultStorageTTL = 30 * 24 * time.Hour
)

// TokenStore holds the credential pair and the cached user of one browser.
type TokenStore interface {
	SetTokens(ctx context.Context, access, refresh string) error
	Token(ctx context.Context) (string, bool)
	RefreshToken(ctx context.Context) (string, bool)
	ClearTokens(ctx context.Context) error
	CacheUser(ctx context.Context, u UserRecord) error
}

// RedisTokenStore persists a browser's storage in Redis.
// The browser session id is hashed so that a Redis dump does not expose cookie values.
type RedisTokenStore struct {
	redis  RedisClientRaw
	prefix string
	ttl    time.Duration
}

var _ TokenStore = (*RedisTokenStore)(nil)

// NewRedisTokenStore scopes a store to the browser identified by sid.
func NewRedisTokenStore(client RedisClientRaw, sid string, ttl time.Duration) *RedisTokenStore {
	if ttl <= 0 {
		ttl = defaultStorageTTL
	}
	return &RedisTokenStore{redis: client, prefix: storageNamespace(sid), ttl: ttl}
}

func storageNamespace(sid string) string {
	sum := blake2b.Sum256([]byte(sid))
	return storageKeyPrefix + hex.EncodeToString(sum[:16]) + ":"
}

func (s *RedisTokenStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisTokenStore) SetTokens(ctx context.Context, access, refresh string) error {
	if err := s.redis.Set(ctx, s.key(storageToken), access, s.ttl).Err(); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(storageRefresh), refresh, s.ttl).Err(); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	// keep the cached user alive as long as the tokens
	_ = s.redis.Expire(ctx, s.key(storageCachedUser), s.ttl).Err()
	return nil
}

// Token returns the access token. Redis failures read as "no token".
func (s *RedisTokenStore) Token(ctx context.Context) (string, bool) {
	return s.get(ctx, storageToken)
}

func (s *RedisTokenStore) RefreshToken(ctx context.Context) (string, bool) {
	return s.get(ctx, storageRefresh)
}

func (s *RedisTokenStore) get(ctx context.Context, name string) (string, bool) {
	v, err := s.redis.Get(ctx, s.key(name)).Result()
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

// ClearTokens removes both tokens and the cached user record.
func (s *RedisTokenStore) ClearTokens(ctx context.Context) error {
	return s.redis.Del(ctx, s.key(storageToken), s.key(storageRefresh), s.key(storageCachedUser)).Err()
}

// CacheUser persists the user record next to the tokens. Nothing reads it back
// on startup: the backend is always asked again.
func (s *RedisTokenStore) CacheUser(ctx context.Context, u UserRecord) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal cached user: %w", err)
	}
	return s.redis.Set(ctx, s.key(storageCachedUser), data, s.ttl).Err()
}
