package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemorySize = 1024

// Memory — LRU кэш в памяти с TTL.
type Memory struct {
	lru *expirable.LRU[string, entry]
	ttl time.Duration
}

type entry struct {
	value     any
	expiresAt time.Time
}

// NewMemory создаёт кэш на size записей.
// ttl — время жизни записи по умолчанию; 0 — без ограничения.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = defaultMemorySize
	}
	return &Memory{
		lru: expirable.NewLRU[string, entry](size, nil, ttl),
		ttl: ttl,
	}
}

// Get возвращает значение по ключу.
func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set сохраняет значение. ttl <= 0 — TTL кэша по умолчанию.
func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

// Len возвращает количество записей.
func (m *Memory) Len() int {
	return m.lru.Len()
}
