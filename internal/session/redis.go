package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arborlabs/arbor/config"
	"github.com/arborlabs/arbor/internal/tree"
)

// RedisStore persists conversation state as JSON blobs in redis. Keys carry
// no redis-side TTL: expiry is the manager's job, not the store's. The
// client can be recycled when idle; the next operation re-dials lazily.
type RedisStore struct {
	opts *redis.Options

	mu      sync.Mutex
	client  *redis.Client
	lastUse time.Time
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{opts: opts, client: client, lastUse: time.Now()}, nil
}

// acquire returns the live client, re-dialing after a recycle, and stamps
// the usage clock.
func (s *RedisStore) acquire() *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		s.client = redis.NewClient(s.opts)
	}
	s.lastUse = time.Now()
	return s.client
}

// IdleSince implements Recycler.
func (s *RedisStore) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return time.Time{}
	}
	return s.lastUse
}

// Recycle closes the connection pool; a closed store re-dials on next use.
func (s *RedisStore) Recycle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func sessionKey(userID, conversationID string) string {
	return fmt.Sprintf("session:%s:%s", userID, conversationID)
}

func (s *RedisStore) Save(ctx context.Context, td *tree.TreeData) error {
	data, err := td.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize conversation: %w", err)
	}
	if err := s.acquire().Set(ctx, sessionKey(td.UserID, td.ConversationID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, userID, conversationID string) (*tree.TreeData, error) {
	data, err := s.acquire().Get(ctx, sessionKey(userID, conversationID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return tree.UnmarshalTreeData(data)
}

func (s *RedisStore) Exists(ctx context.Context, userID, conversationID string) (bool, error) {
	n, err := s.acquire().Exists(ctx, sessionKey(userID, conversationID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID, conversationID string) error {
	if err := s.acquire().Del(ctx, sessionKey(userID, conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
