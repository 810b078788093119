package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/conductor/types"
)

// RedisMessageStore is a Redis-backed MessageStore for distributed
// deployments: each workflow's message history is an append-only list,
// so multiple engine processes share one history.
type RedisMessageStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisMessageStoreConfig configures the redis-backed message history.
type RedisMessageStoreConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"pool_size"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// NewRedisMessageStore connects to Redis and verifies the connection.
func NewRedisMessageStore(cfg RedisMessageStoreConfig) (*RedisMessageStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "conductor:"
	}
	return &RedisMessageStore{
		client:    client,
		keyPrefix: prefix + "msg:",
		ttl:       cfg.TTL,
	}, nil
}

// NewRedisMessageStoreFromClient wraps an existing client; used by tests
// with miniredis.
func NewRedisMessageStoreFromClient(client *redis.Client, keyPrefix string) *RedisMessageStore {
	if keyPrefix == "" {
		keyPrefix = "conductor:"
	}
	return &RedisMessageStore{client: client, keyPrefix: keyPrefix + "msg:"}
}

func (s *RedisMessageStore) historyKey(workflowID string) string {
	return s.keyPrefix + "history:" + workflowID
}

// AddMessage appends a message to the workflow's history list.
func (s *RedisMessageStore) AddMessage(ctx context.Context, m *types.AgentMessage) error {
	if m == nil || m.ID == "" {
		return ErrInvalidInput
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := s.historyKey(m.WorkflowInstanceID)
	if err := s.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, key, s.ttl)
	}
	return nil
}

// ListMessages returns the workflow's history in insertion order.
func (s *RedisMessageStore) ListMessages(ctx context.Context, workflowID string) ([]*types.AgentMessage, error) {
	raws, err := s.client.LRange(ctx, s.historyKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read message history: %w", err)
	}
	out := make([]*types.AgentMessage, 0, len(raws))
	for _, raw := range raws {
		var m types.AgentMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

// Ping checks store health.
func (s *RedisMessageStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisMessageStore) Close() error {
	return s.client.Close()
}
