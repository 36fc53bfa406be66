package repository

import (
	"context"
	"slices"
	"sync"

	"address-key-service/internal/domain"
)

// MemoryCache はプロセス内メモリのシークレットキャッシュ。
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[domain.CacheKey]domain.CacheEntry
	groups  map[domain.CacheKey][]domain.CacheKey
}

// NewMemoryCache は新しいMemoryCacheを生成する。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[domain.CacheKey]domain.CacheEntry),
		groups:  make(map[domain.CacheKey][]domain.CacheKey),
	}
}

// Get はエントリのコピーを返す。
func (c *MemoryCache) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return &domain.CacheEntry{Data: slices.Clone(e.Data), Tag: e.Tag}, nil
}

// Set はエントリを書き込む。
func (c *MemoryCache) Set(ctx context.Context, key domain.CacheKey, entry domain.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = domain.CacheEntry{Data: slices.Clone(entry.Data), Tag: entry.Tag}
	return nil
}

// IncludeInGroup はグループのメンバーを置き換える。
func (c *MemoryCache) IncludeInGroup(ctx context.Context, group domain.CacheKey, members []domain.CacheKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.groups[group] = append(make([]domain.CacheKey, 0, len(members)), members...)
	return nil
}

// GroupMembers はグループのメンバーを返す。
func (c *MemoryCache) GroupMembers(ctx context.Context, group domain.CacheKey) ([]domain.CacheKey, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	members, ok := c.groups[group]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(members), true, nil
}

// InvalidateGroup はグループとメンバーのエントリを削除する。
func (c *MemoryCache) InvalidateGroup(ctx context.Context, group domain.CacheKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.groups[group] {
		delete(c.entries, m)
	}
	delete(c.groups, group)
	return nil
}
