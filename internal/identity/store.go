package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store keeps the latest detection result on file.
type Store interface {
	Replace(ctx context.Context, list []NameInconsistency) error
	Get(ctx context.Context, employeeID int64) (NameInconsistency, bool, error)
	List(ctx context.Context) ([]NameInconsistency, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[int64]NameInconsistency
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[int64]NameInconsistency)}
}

// Replace swaps the whole result.
func (s *MemoryStore) Replace(ctx context.Context, list []NameInconsistency) error {
	items := make(map[int64]NameInconsistency, len(list))
	for _, item := range list {
		items[item.EmployeeID] = item
	}
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// Get returns the mismatch recorded for employeeID, if any.
func (s *MemoryStore) Get(ctx context.Context, employeeID int64) (NameInconsistency, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[employeeID]
	return item, ok, nil
}

// List returns every recorded mismatch sorted by employee id.
func (s *MemoryStore) List(ctx context.Context) ([]NameInconsistency, error) {
	s.mu.RLock()
	out := make([]NameInconsistency, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	s.mu.RUnlock()
	sortByEmployee(out)
	return out, nil
}

// DefaultRedisKey is the hash holding mismatches, one field per employee.
const DefaultRedisKey = "reembolso:identity:mismatches"

// RedisStore keeps mismatches in a Redis hash so every API replica sees the
// same result.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore builds a RedisStore. An empty key selects DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Replace swaps the hash atomically.
func (s *RedisStore) Replace(ctx context.Context, list []NameInconsistency) error {
	fields := make(map[string]any, len(list))
	for _, item := range list {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("identity: encode mismatch: %w", err)
		}
		fields[strconv.FormatInt(item.EmployeeID, 10)] = raw
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, s.key, fields)
		}
		return nil
	})
	return err
}

// Get returns the mismatch recorded for employeeID, if any.
func (s *RedisStore) Get(ctx context.Context, employeeID int64) (NameInconsistency, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, strconv.FormatInt(employeeID, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NameInconsistency{}, false, nil
	}
	if err != nil {
		return NameInconsistency{}, false, err
	}
	var item NameInconsistency
	if err := json.Unmarshal(raw, &item); err != nil {
		return NameInconsistency{}, false, fmt.Errorf("identity: decode mismatch: %w", err)
	}
	return item, true, nil
}

// List returns every recorded mismatch sorted by employee id.
func (s *RedisStore) List(ctx context.Context) ([]NameInconsistency, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]NameInconsistency, 0, len(all))
	for _, raw := range all {
		var item NameInconsistency
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("identity: decode mismatch: %w", err)
		}
		out = append(out, item)
	}
	sortByEmployee(out)
	return out, nil
}

func sortByEmployee(list []NameInconsistency) {
	sort.Slice(list, func(i, j int) bool { return list[i].EmployeeID < list[j].EmployeeID })
}
