package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
)

// Store persists chat history and the user directory for the relay.
type Store interface {
	AppendMessage(ctx context.Context, msg domain.ChatMessage) error
	GetConversation(ctx context.Context, userA, userB string, limit int) ([]domain.ChatMessage, error)
	UpsertUser(ctx context.Context, profile domain.Profile) error
	ListUsers(ctx context.Context) ([]domain.Profile, error)
	Close() error
}

// conversationKey is order-independent so both participants read the
// same history.
func conversationKey(prefix, userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%s:conv:%s:%s", prefix, userA, userB)
}

// RedisStore keeps each conversation in a list and the directory in a
// hash.
type RedisStore struct {
	client *redis.Client
	prefix string
	maxLen int64
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	MaxLen   int64  `mapstructure:"max_len"`
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 500
	}

	return &RedisStore{client: client, prefix: cfg.Prefix, maxLen: maxLen}, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, msg domain.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := conversationKey(s.prefix, msg.SenderID, msg.ReceiverID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -s.maxLen, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *RedisStore) GetConversation(ctx context.Context, userA, userB string, limit int) ([]domain.ChatMessage, error) {
	key := conversationKey(s.prefix, userA, userB)

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	rows, err := s.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	messages := make([]domain.ChatMessage, 0, len(rows))
	for _, row := range rows {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(row), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStore) UpsertUser(ctx context.Context, profile domain.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.prefix+":users", profile.ID, data).Err()
}

func (s *RedisStore) ListUsers(ctx context.Context) ([]domain.Profile, error) {
	rows, err := s.client.HGetAll(ctx, s.prefix+":users").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]domain.Profile, 0, len(rows))
	for _, row := range rows {
		var p domain.Profile
		if err := json.Unmarshal([]byte(row), &p); err != nil {
			continue
		}
		users = append(users, p)
	}
	sort.Slice(users, func(i, j int) bool {
		return strings.Compare(users[i].ID, users[j].ID) < 0
	})
	return users, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is the fallback when Redis is not available, and the
// store used in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]domain.ChatMessage
	users         map[string]domain.Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string][]domain.ChatMessage),
		users:         make(map[string]domain.Profile),
	}
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg domain.ChatMessage) error {
	key := conversationKey("mem", msg.SenderID, msg.ReceiverID)
	s.mu.Lock()
	s.conversations[key] = append(s.conversations[key], msg)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, userA, userB string, limit int) ([]domain.ChatMessage, error) {
	key := conversationKey("mem", userA, userB)
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.conversations[key]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, profile domain.Profile) error {
	s.mu.Lock()
	s.users[profile.ID] = profile
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.Profile, 0, len(s.users))
	for _, p := range s.users {
		users = append(users, p)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
