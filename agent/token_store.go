// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenStore remembers consumed decision token ids until they expire
type TokenStore interface {
	// Consume marks jti as used and reports whether this was the first use.
	Consume(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
}

// MemoryTokenStore is a process-local TokenStore
type MemoryTokenStore struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

// NewMemoryTokenStore returns an empty store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{used: make(map[string]time.Time), now: time.Now}
}

// Consume records jti, dropping ids whose tokens have expired
func (m *MemoryTokenStore) Consume(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, exp := range m.used {
		if !exp.After(now) {
			delete(m.used, id)
		}
	}

	if _, seen := m.used[jti]; seen {
		return false, nil
	}
	m.used[jti] = expiresAt
	return true, nil
}

// Len returns the number of remembered ids
func (m *MemoryTokenStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}

// RedisTokenStore shares consumed ids across gate replicas through Redis
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenStore returns a store on client
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, prefix: "bedrockgate:decision:"}
}

// Consume sets the id key with SETNX and a TTL matching the token expiry
func (r *RedisTokenStore) Consume(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	first, err := r.client.SetNX(ctx, r.prefix+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record decision token: %w", err)
	}
	return first, nil
}

// newRedisClient parses redisURL and verifies the connection
func newRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
